package train

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-bowyer/internal/checkpoint"
	"github.com/23skdu/longbow-bowyer/internal/embedding"
	"github.com/23skdu/longbow-bowyer/internal/model"
	"github.com/23skdu/longbow-bowyer/internal/sample"
	"github.com/23skdu/longbow-bowyer/internal/vocab"
)

var tracer = otel.Tracer("bowyer-train")

// Params control the bookkeeping around a training run. Model
// hyperparameters live in model.Config.
type Params struct {
	// CheckpointPath, when non-empty, receives a checkpoint after every
	// CheckpointEvery epochs and after the final one.
	CheckpointPath  string
	CheckpointEvery int
	// LogEvery is the progress logging interval. Zero means 10s.
	LogEvery time.Duration
	// Probes are words whose nearest neighbors are logged after every
	// ProbeEvery epochs, a cheap readability check on the vectors.
	Probes     []string
	ProbeEvery int
}

// Trainer drives skip-gram training over an encoded corpus. Each epoch it
// subsamples frequent words, shards the survivors across goroutines, and
// streams batches of (center, context) pairs into the model. Workers share
// the weight matrices without locks, Hogwild style.
type Trainer struct {
	cfg    model.Config
	params Params
	vocab  *vocab.Vocabulary
	corpus []int
	model  *model.SkipGram

	startEpoch int
	total      int64        // corpus positions across all epochs, drives lr decay
	processed  atomic.Int64 // positions consumed so far
	losses     []float64
}

// New prepares a fresh run over corpus, a stream of vocabulary ids.
func New(cfg model.Config, v *vocab.Vocabulary, corpus []int, p Params) (*Trainer, error) {
	m, err := model.New(cfg, v)
	if err != nil {
		return nil, err
	}
	if err := checkIDs(corpus, v.Len()); err != nil {
		return nil, err
	}
	return newTrainer(cfg, v, corpus, p, m, 0, 0), nil
}

// Resume continues a run from a saved checkpoint. The hyperparameters and
// the epoch cursor come from the checkpoint, not from the caller.
func Resume(st *checkpoint.State, corpus []int, p Params) (*Trainer, error) {
	m, v, err := st.Restore()
	if err != nil {
		return nil, err
	}
	if err := checkIDs(corpus, v.Len()); err != nil {
		return nil, err
	}
	return newTrainer(st.Config, v, corpus, p, m, st.Epoch, st.Step), nil
}

func checkIDs(corpus []int, rows int) error {
	for i, id := range corpus {
		if id < 0 || id >= rows {
			return fmt.Errorf("train: corpus position %d holds id %d, vocabulary has %d words", i, id, rows)
		}
	}
	return nil
}

func newTrainer(cfg model.Config, v *vocab.Vocabulary, corpus []int, p Params, m *model.SkipGram, epoch int, step int64) *Trainer {
	if p.CheckpointEvery < 1 {
		p.CheckpointEvery = 1
	}
	if p.LogEvery <= 0 {
		p.LogEvery = 10 * time.Second
	}
	if p.ProbeEvery < 1 {
		p.ProbeEvery = 1
	}
	t := &Trainer{
		cfg:        cfg,
		params:     p,
		vocab:      v,
		corpus:     corpus,
		model:      m,
		startEpoch: epoch,
		total:      int64(cfg.Epochs) * int64(len(corpus)),
	}
	t.processed.Store(step)
	return t
}

// Model returns the model being trained. Reading it mid-run races with
// worker updates.
func (t *Trainer) Model() *model.SkipGram { return t.model }

// Vocab returns the vocabulary the model was built over.
func (t *Trainer) Vocab() *vocab.Vocabulary { return t.vocab }

// Losses returns the mean loss of each epoch completed by this trainer.
func (t *Trainer) Losses() []float64 { return t.losses }

// lr decays linearly with corpus positions consumed, floored at MinLR.
func (t *Trainer) lr() float32 {
	if t.total <= 0 {
		return float32(t.cfg.InitialLR)
	}
	frac := float64(t.processed.Load()) / float64(t.total)
	if frac > 1 {
		frac = 1
	}
	lr := t.cfg.InitialLR * (1 - frac)
	if lr < t.cfg.MinLR {
		lr = t.cfg.MinLR
	}
	return float32(lr)
}

// Run trains until the configured epoch count or until ctx is canceled,
// whichever comes first, and returns the model as it stands. An epoch cut
// short by cancellation is not checkpointed; resuming repeats it.
func (t *Trainer) Run(ctx context.Context) (*model.SkipGram, error) {
	if t.startEpoch >= t.cfg.Epochs {
		log.Info().Int("epoch", t.startEpoch).Msg("Checkpoint already fully trained")
		return t.model, nil
	}

	stop := t.startProgressLog(ctx)
	defer stop()

	for epoch := t.startEpoch; epoch < t.cfg.Epochs; epoch++ {
		if !t.runEpoch(ctx, epoch) {
			log.Warn().Int("epoch", epoch+1).Msg("Training interrupted")
			return t.model, nil
		}

		done := epoch + 1
		if t.params.CheckpointPath != "" && (done%t.params.CheckpointEvery == 0 || done == t.cfg.Epochs) {
			t.saveCheckpoint(done)
		}
		if len(t.params.Probes) > 0 && (done%t.params.ProbeEvery == 0 || done == t.cfg.Epochs) {
			t.logProbes()
		}
	}
	return t.model, nil
}

// runEpoch reports whether the epoch ran to completion.
func (t *Trainer) runEpoch(ctx context.Context, epoch int) bool {
	ctx, span := tracer.Start(ctx, "train.epoch")
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return false
	}

	start := time.Now()
	sub := sample.NewSubsampler(t.vocab, t.cfg.Subsample,
		rand.New(rand.NewSource(t.cfg.Seed+int64(epoch)*7919)))
	kept := sub.Filter(t.corpus)

	workers := t.cfg.Goroutines
	chunk := (len(kept) + workers - 1) / workers
	sums := make([]float64, workers)
	counts := make([]int64, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= len(kept) {
			break
		}
		hi := lo + chunk
		if hi > len(kept) {
			hi = len(kept)
		}

		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(t.cfg.Seed + int64(epoch)*1000 + int64(w)))
			// cfg was validated when the model was built
			win, _ := sample.NewWindower(t.cfg.Window, rng)
			batcher, _ := sample.NewBatcher(t.cfg.BatchSize, win)

			it := batcher.Iter(kept[lo:hi])
			for it.Next() {
				if ctx.Err() != nil {
					return
				}
				bstart := time.Now()
				centers, contexts := it.Batch()
				lr := t.lr()
				var sum float32
				for i := range centers {
					sum += t.model.Update(centers[i], contexts[i], lr, rng)
				}
				sums[w] += float64(sum)
				counts[w] += int64(len(centers))
				t.processed.Add(int64(it.Positions()))

				pairsTrained.Add(float64(len(centers)))
				batchesTrained.Inc()
				batchDuration.Observe(time.Since(bstart).Seconds())
				learningRate.Set(float64(lr))
			}
		}(w, lo, hi)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return false
	}

	// Subsampling and the dropped trailing chunks keep the consumed position
	// count below the raw corpus length, so pin the decay cursor to the
	// epoch boundary once the epoch is done.
	t.processed.Store(int64(epoch+1) * int64(len(t.corpus)))

	var sum float64
	var pairs int64
	for w := range sums {
		sum += sums[w]
		pairs += counts[w]
	}
	var mean float64
	if pairs > 0 {
		mean = sum / float64(pairs)
	}
	t.losses = append(t.losses, mean)
	lastEpochLoss.Set(mean)
	epochGauge.Set(float64(epoch + 1))
	span.SetAttributes(
		attribute.Int("epoch", epoch+1),
		attribute.Int("pairs", int(pairs)),
	)

	log.Info().
		Int("epoch", epoch+1).
		Int("kept", len(kept)).
		Int64("pairs", pairs).
		Float64("loss", mean).
		Float64("lr", float64(t.lr())).
		Dur("elapsed", time.Since(start)).
		Msg("Epoch complete")
	return true
}

// saveCheckpoint logs failures instead of aborting the run; the weights are
// still live in memory and the next boundary retries.
func (t *Trainer) saveCheckpoint(epoch int) {
	st := checkpoint.Capture(t.cfg, t.model, t.vocab, epoch, t.processed.Load())
	if err := checkpoint.Save(t.params.CheckpointPath, st); err != nil {
		log.Error().Err(err).Str("path", t.params.CheckpointPath).Msg("Checkpoint save failed")
		return
	}
	checkpointsWritten.Inc()
	log.Info().Str("path", t.params.CheckpointPath).Int("epoch", epoch).Msg("Checkpoint saved")
}

func (t *Trainer) logProbes() {
	e := embedding.FromModel(t.model, t.vocab)
	for _, w := range t.params.Probes {
		ns, err := e.Neighbors(w, 5)
		if err != nil {
			log.Warn().Str("word", w).Msg("Probe word not in vocabulary")
			continue
		}
		words := make([]string, len(ns))
		for i, n := range ns {
			words[i] = n.Word
		}
		log.Info().Str("word", w).Strs("neighbors", words).Msg("Probe")
	}
}

func (t *Trainer) startProgressLog(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(t.params.LogEvery)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-tick.C:
				p := t.processed.Load()
				ev := log.Info().Int64("positions", p).Float64("lr", float64(t.lr()))
				if t.total > 0 {
					ev = ev.Float64("pct", 100*float64(p)/float64(t.total))
				}
				ev.Msg("Training progress")
			}
		}
	}()
	return func() { close(done) }
}
