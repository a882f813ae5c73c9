package checkpointer

// nStep implements checkpointing every N iterations
type nStep struct {
	interval int

	// filename returns the filename of the file to save the checkpoint
	// of an iteration in.
	//
	// If each checkpoint should be saved in a separate file named by
	// its iteration (e.g. state-000010.gob, state-000020.gob), use
	// FileIteration:
	//
	// n := NewNStep(10, FileIteration("state", ".gob"))
	//
	// For a counter suffix, use FilenameEnumerator.
	filename Namer
}

// NewNStep returns a checkpointer that checkpoints every n iterations.
// If n < 1, every iteration is checkpointed.
func NewNStep(n int, filename Namer) Checkpointer {
	if n < 1 {
		n = 1
	}
	return &nStep{
		interval: n,
		filename: filename,
	}
}

// Checkpoint saves object if iteration is a multiple of the
// checkpointing interval
func (n *nStep) Checkpoint(iteration int, object interface{}) error {
	if iteration%n.interval == 0 {
		return Save(n.filename(iteration), object)
	}
	return nil
}
