//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/23skdu/longbow-bowyer/internal/client"
	"github.com/23skdu/longbow-bowyer/internal/embedding"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:3000"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Longbow Flight Server")

	// Retry connection loop
	var c *client.FlightClient
	var err error

	for i := 0; i < 10; i++ {
		c, err = client.NewFlightClient(addr)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Connection failed, retrying...")
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect after retries")
	}
	defer c.Close()

	words := []string{"hello", "world", "arrow"}
	vecs := []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
	e, err := embedding.New(words, vecs, 4)
	if err != nil {
		log.Fatal().Err(err).Msg("Bad fixture")
	}

	log.Info().Int("count", e.Len()).Msg("Pushing vectors")

	start := time.Now()
	if err := c.PushVectors(context.Background(), "bowyer_verify", e); err != nil {
		log.Fatal().Err(err).Msg("Push failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Vectors accepted")

	fmt.Println("VERIFICATION PASSED")
}
