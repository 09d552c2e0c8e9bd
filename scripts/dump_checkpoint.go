//go:build ignore

package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/23skdu/longbow-bowyer/internal/checkpoint"
	"github.com/23skdu/longbow-bowyer/internal/model"
)

// MatrixDump holds the summary of a weight matrix for verification
type MatrixDump struct {
	Name     string    `json:"name"`
	Rows     int       `json:"rows"`
	Cols     int       `json:"cols"`
	FirstFew []float32 `json:"first_few"`
	LastFew  []float32 `json:"last_few"`
	Sum      float32   `json:"sum"`
}

func main() {
	path := flag.String("checkpoint", "bowyer.ck", "Path to checkpoint")
	flag.Parse()

	st, err := checkpoint.Load(*path)
	if err != nil {
		log.Fatalf("Failed to load checkpoint: %v", err)
	}

	m, v, err := st.Restore()
	if err != nil {
		log.Fatalf("Failed to restore model: %v", err)
	}

	dumps := []MatrixDump{}

	// Helper to dump a matrix
	dump := func(name string, data []float32) {
		md := MatrixDump{
			Name: name,
			Rows: m.Rows(),
			Cols: m.Dim(),
		}

		if len(data) > 0 {
			count := 5
			if len(data) < 5 {
				count = len(data)
			}
			md.FirstFew = data[:count]
			md.LastFew = data[len(data)-count:]

			sum := float32(0)
			for _, x := range data {
				sum += x
			}
			md.Sum = sum
		}
		dumps = append(dumps, md)
	}

	dump("input", m.Input())
	dump("output", m.Output())

	summary := struct {
		Config   model.Config `json:"config"`
		Epoch    int          `json:"epoch"`
		Step     int64        `json:"step"`
		Words    int          `json:"words"`
		Matrices []MatrixDump `json:"matrices"`
	}{st.Config, st.Epoch, st.Step, v.Len(), dumps}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Fatal(err)
	}
}
