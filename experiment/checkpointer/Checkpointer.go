// Package checkpointer implements checkpointing of training state with
// gob
package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpointer checkpoints gob encodable objects keyed by training
// iteration
type Checkpointer interface {
	Checkpoint(iteration int, object interface{}) error
}

// Namer returns the name of the file in which to save the checkpoint
// of an iteration
type Namer func(iteration int) string

// Save gob encodes object into filename. The object is first written to
// a temporary file which is then renamed, so that an existing
// checkpoint is never left partially overwritten.
func Save(filename string, object interface{}) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("save: %v", err)
	}

	tmp := filename + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("save: %v", err)
	}
	if err := gob.NewEncoder(file).Encode(object); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("save: could not encode checkpoint: %v", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save: %v", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// Load decodes the checkpoint in filename into object, which must be a
// pointer
func Load(filename string, object interface{}) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("load: %v", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(object); err != nil {
		return fmt.Errorf("load: could not decode checkpoint: %v", err)
	}
	return nil
}
