package tracker

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Return tracks the mean episode reward of each iteration in memory and
// saves it with gob. Iterations in which no episode finished are
// recorded as NaN.
type Return struct {
	returns  []float64
	filename string
}

// NewReturn creates and returns a new *Return Tracker. If filename is
// empty, Save does nothing.
func NewReturn(filename string) *Return {
	return &Return{filename: filename}
}

// Track caches the mean episode reward of row
func (r *Return) Track(row Row) error {
	r.returns = append(r.returns, row.MeanEpisodeReward)
	return nil
}

// Data returns a copy of the tracked mean episode rewards
func (r *Return) Data() []float64 {
	return append([]float64(nil), r.returns...)
}

// Resume replaces the tracked data with the first iteration entries
// saved in the Tracker's file. If the file does not exist, no data is
// kept.
func (r *Return) Resume(iteration int) error {
	r.returns = nil
	if _, err := os.Stat(r.filename); r.filename == "" || os.IsNotExist(err) {
		return nil
	}

	data, err := LoadData(r.filename)
	if err != nil {
		return fmt.Errorf("resume: %v", err)
	}
	if iteration < len(data) {
		data = data[:iteration]
	}
	r.returns = data
	return nil
}

// Save saves the data tracked by the Return Tracker to disk
func (r *Return) Save() error {
	if r.filename == "" {
		return nil
	}
	file, err := os.Create(r.filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	enc := gob.NewEncoder(file)
	if err = enc.Encode(r.returns); err != nil {
		return fmt.Errorf("save: could not encode returns: %v", err)
	}
	return nil
}

// LoadData loads and returns the data saved by a Return Tracker
func LoadData(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadData: could not open data file: %v", err)
	}
	defer file.Close()

	var data []float64
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("loadData: could not decode data: %v", err)
	}
	return data, nil
}
