package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-bowyer/internal/checkpoint"
	"github.com/23skdu/longbow-bowyer/internal/client"
	"github.com/23skdu/longbow-bowyer/internal/corpus"
	"github.com/23skdu/longbow-bowyer/internal/embedding"
	"github.com/23skdu/longbow-bowyer/internal/model"
	"github.com/23skdu/longbow-bowyer/internal/train"
	"github.com/23skdu/longbow-bowyer/internal/viz"
	"github.com/23skdu/longbow-bowyer/internal/vocab"
)

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "vocab":
		runVocab(os.Args[2:])
	case "train":
		runTrain(os.Args[2:])
	case "neighbors":
		runNeighbors(os.Args[2:])
	case "analogy":
		runAnalogy(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "viz":
		runViz(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: bowyer <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  vocab      count words in a corpus and write a vocabulary file")
	fmt.Fprintln(os.Stderr, "  train      train skip-gram word vectors over a corpus")
	fmt.Fprintln(os.Stderr, "  neighbors  print the nearest neighbors of words")
	fmt.Fprintln(os.Stderr, "  analogy    solve A : B :: C : ?")
	fmt.Fprintln(os.Stderr, "  export     write vectors as word2vec text or Arrow IPC")
	fmt.Fprintln(os.Stderr, "  viz        render a 2-D projection of the top words to HTML")
	fmt.Fprintln(os.Stderr, "  serve      serve neighbor queries over HTTP")
}

// sourceFlags select where query commands read their vectors from.
type sourceFlags struct {
	checkpoint string
	vectors    string
}

func addSourceFlags(fs *flag.FlagSet) *sourceFlags {
	var sf sourceFlags
	fs.StringVar(&sf.checkpoint, "checkpoint", "", "Path to a training checkpoint")
	fs.StringVar(&sf.vectors, "vectors", "", "Path to a word2vec text vector file")
	return &sf
}

func (sf *sourceFlags) load() (*embedding.Embeddings, error) {
	switch {
	case sf.checkpoint != "":
		st, err := checkpoint.Load(sf.checkpoint)
		if err != nil {
			return nil, err
		}
		m, v, err := st.Restore()
		if err != nil {
			return nil, err
		}
		return embedding.FromModel(m, v), nil
	case sf.vectors != "":
		f, err := os.Open(sf.vectors)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return embedding.ReadText(f)
	default:
		return nil, errors.New("need -checkpoint or -vectors")
	}
}

func countTokens(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	counts := make(map[string]int)
	sc := corpus.NewScanner(f)
	for sc.Scan() {
		counts[sc.Token()]++
	}
	return counts, sc.Err()
}

// encodeCorpus streams the corpus a second time and maps tokens to ids.
// Tokens outside the vocabulary are dropped.
func encodeCorpus(path string, v *vocab.Vocabulary) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []int
	sc := corpus.NewScanner(f)
	for sc.Scan() {
		if id, ok := v.ID(sc.Token()); ok {
			ids = append(ids, id)
		}
	}
	return ids, sc.Err()
}

func runVocab(args []string) {
	fs := flag.NewFlagSet("vocab", flag.ExitOnError)
	corpusPath := fs.String("corpus", "", "Path to the corpus (required)")
	out := fs.String("out", "vocab.txt", "Vocabulary output path")
	minCount := fs.Int("min-count", 5, "Minimum word frequency")
	fs.Parse(args)

	if *corpusPath == "" {
		log.Fatal().Msg("-corpus is required")
	}

	counts, err := countTokens(*corpusPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read corpus")
	}
	v := vocab.FromCounts(counts, *minCount)

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vocabulary file")
	}
	if err := v.Save(f); err != nil {
		f.Close()
		log.Fatal().Err(err).Msg("Failed to write vocabulary")
	}
	if err := f.Close(); err != nil {
		log.Fatal().Err(err).Msg("Failed to write vocabulary")
	}
	log.Info().Str("path", *out).Int("words", v.Len()).Int("tokens", v.Total()).Msg("Vocabulary written")
}

func runTrain(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	cfg := model.DefaultConfig()

	corpusPath := fs.String("corpus", "", "Path to the training corpus (required)")
	vocabPath := fs.String("vocab", "", "Reuse an existing vocabulary file")
	checkpointPath := fs.String("checkpoint", "bowyer.ck", "Checkpoint path, empty disables checkpointing")
	checkpointEvery := fs.Int("checkpoint-every", 1, "Epochs between checkpoints")
	resume := fs.Bool("resume", false, "Resume training from the checkpoint")
	vectorsOut := fs.String("vectors", "", "Write vectors as word2vec text after training")
	serverAddr := fs.String("server", "", "Longbow server address (e.g., localhost:3000)")
	datasetName := fs.String("dataset", "bowyer_vectors", "Target dataset name on server")
	probes := fs.String("probe", "", "Comma-separated words whose neighbors are logged during training")
	probeEvery := fs.Int("probe-every", 1, "Epochs between probe-word neighbor logs")
	cpuProfile := fs.String("cpuprofile", "", "Write cpu profile to file")
	enableOTel := fs.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")

	fs.IntVar(&cfg.Dim, "dim", cfg.Dim, "Embedding dimensionality")
	fs.IntVar(&cfg.Window, "window", cfg.Window, "Maximum context window radius")
	fs.IntVar(&cfg.Negative, "negative", cfg.Negative, "Negative samples per pair")
	fs.Float64Var(&cfg.Subsample, "subsample", cfg.Subsample, "Subsampling threshold, 0 disables")
	fs.IntVar(&cfg.MinCount, "min-count", cfg.MinCount, "Minimum word frequency")
	fs.Float64Var(&cfg.InitialLR, "lr", cfg.InitialLR, "Initial learning rate")
	fs.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "Training epochs")
	fs.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Batch size")
	fs.IntVar(&cfg.Goroutines, "goroutines", cfg.Goroutines, "Training goroutines")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")

	fs.Parse(args)

	if *corpusPath == "" {
		log.Fatal().Msg("-corpus is required")
	}

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := train.Params{
		CheckpointPath:  *checkpointPath,
		CheckpointEvery: *checkpointEvery,
		ProbeEvery:      *probeEvery,
	}
	if *probes != "" {
		params.Probes = strings.Split(*probes, ",")
	}

	var trainer *train.Trainer
	if *resume {
		st, err := checkpoint.Load(*checkpointPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *checkpointPath).Msg("Failed to load checkpoint")
		}
		// -epochs can extend a resumed run, everything else comes from
		// the checkpoint.
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "epochs" && cfg.Epochs > st.Config.Epochs {
				st.Config.Epochs = cfg.Epochs
			}
		})
		v, err := vocab.FromPairs(st.Words, st.Counts)
		if err != nil {
			log.Fatal().Err(err).Msg("Checkpoint vocabulary is corrupt")
		}
		ids, err := encodeCorpus(*corpusPath, v)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode corpus")
		}
		trainer, err = train.Resume(st, ids, params)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to resume training")
		}
		log.Info().Int("epoch", st.Epoch).Int("words", v.Len()).Int("tokens", len(ids)).Msg("Resuming training")
	} else {
		var v *vocab.Vocabulary
		if *vocabPath != "" {
			f, err := os.Open(*vocabPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to open vocabulary file")
			}
			v, err = vocab.Load(f)
			f.Close()
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to parse vocabulary file")
			}
		} else {
			counts, err := countTokens(*corpusPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to read corpus")
			}
			v = vocab.FromCounts(counts, cfg.MinCount)
		}
		if v.Len() == 0 {
			log.Fatal().Msg("Vocabulary is empty, lower -min-count or check the corpus")
		}

		ids, err := encodeCorpus(*corpusPath, v)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode corpus")
		}
		log.Info().Int("words", v.Len()).Int("tokens", len(ids)).Msg("Corpus encoded")

		trainer, err = train.New(cfg, v, ids, params)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build trainer")
		}
	}

	m, err := trainer.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}

	e := embedding.FromModel(m, trainer.Vocab())

	if *vectorsOut != "" {
		if err := writeVectors(*vectorsOut, e); err != nil {
			log.Fatal().Err(err).Msg("Failed to write vectors")
		}
		log.Info().Str("path", *vectorsOut).Int("words", e.Len()).Msg("Vectors written")
	}

	if *serverAddr != "" {
		pushVectors(*serverAddr, *datasetName, e)
	}
}

func writeVectors(path string, e *embedding.Embeddings) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := e.WriteText(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func pushVectors(addr, dataset string, e *embedding.Embeddings) {
	log.Info().Int("count", e.Len()).Str("server", addr).Str("dataset", dataset).Msg("Sending vectors to Longbow")
	fc, err := client.NewFlightClient(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Longbow")
	}
	defer func() {
		if err := fc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := fc.PushVectors(ctx, dataset, e); err != nil {
		log.Fatal().Err(err).Msg("Flight push failed")
	}
	log.Info().Msg("Successfully sent vectors to Longbow")
}

func runNeighbors(args []string) {
	fs := flag.NewFlagSet("neighbors", flag.ExitOnError)
	sf := addSourceFlags(fs)
	k := fs.Int("k", 10, "Number of neighbors per word")
	fs.Parse(args)

	if fs.NArg() == 0 {
		log.Fatal().Msg("Usage: bowyer neighbors [flags] WORD...")
	}

	e, err := sf.load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load vectors")
	}

	for _, word := range fs.Args() {
		ns, err := e.Neighbors(word, *k)
		if err != nil {
			log.Warn().Str("word", word).Msg("Not in vocabulary")
			continue
		}
		fmt.Print(word + ":")
		for _, n := range ns {
			fmt.Printf(" %s=%.4f", n.Word, n.Similarity)
		}
		fmt.Println()
	}
}

func runAnalogy(args []string) {
	fs := flag.NewFlagSet("analogy", flag.ExitOnError)
	sf := addSourceFlags(fs)
	k := fs.Int("k", 5, "Number of candidates to print")
	fs.Parse(args)

	if fs.NArg() != 3 {
		log.Fatal().Msg("Usage: bowyer analogy [flags] A B C  (solves A : B :: C : ?)")
	}

	e, err := sf.load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load vectors")
	}

	a, b, c := fs.Arg(0), fs.Arg(1), fs.Arg(2)
	ns, err := e.Analogy(a, b, c, *k)
	if err != nil {
		log.Fatal().Err(err).Msg("Analogy failed")
	}
	for _, n := range ns {
		fmt.Printf("%s=%.4f\n", n.Word, n.Similarity)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	sf := addSourceFlags(fs)
	format := fs.String("format", "text", "Output format: text or arrow")
	out := fs.String("out", "", "Output path (default stdout)")
	fs.Parse(args)

	e, err := sf.load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load vectors")
	}

	var w io.Writer = os.Stdout
	var f *os.File
	if *out != "" {
		f, err = os.Create(*out)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create output file")
		}
		w = f
	}

	switch *format {
	case "text":
		err = e.WriteText(w)
	case "arrow":
		err = e.WriteArrowIPC(w)
	default:
		log.Fatal().Str("format", *format).Msg("Unknown format, want text or arrow")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}

	if f != nil {
		if err := f.Close(); err != nil {
			log.Fatal().Err(err).Msg("Failed to close output file")
		}
		log.Info().Str("path", *out).Str("format", *format).Int("words", e.Len()).Msg("Vectors exported")
	}
}

func runViz(args []string) {
	fs := flag.NewFlagSet("viz", flag.ExitOnError)
	sf := addSourceFlags(fs)
	n := fs.Int("n", 200, "Number of most frequent words to plot")
	out := fs.String("out", "vectors.html", "HTML output path")
	title := fs.String("title", "bowyer word vectors", "Chart title")
	fs.Parse(args)

	e, err := sf.load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load vectors")
	}

	pts, err := viz.Project(e, *n)
	if err != nil {
		log.Fatal().Err(err).Msg("Projection failed")
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create output file")
	}
	if err := viz.Render(f, *title, pts); err != nil {
		f.Close()
		log.Fatal().Err(err).Msg("Render failed")
	}
	if err := f.Close(); err != nil {
		log.Fatal().Err(err).Msg("Failed to close output file")
	}
	log.Info().Str("path", *out).Int("points", len(pts)).Msg("Visualization written")
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	sf := addSourceFlags(fs)
	listenAddr := fs.String("listen", ":8080", "Address to listen on")
	maxConcurrent := fs.Int("max-concurrent", 1024, "Maximum number of concurrent word lookups")
	enableOTel := fs.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	fs.Parse(args)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	e, err := sf.load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load vectors")
	}
	log.Info().Int("words", e.Len()).Int("dim", e.Dim()).Msg("Vectors loaded")

	startServer(*listenAddr, e, *maxConcurrent)
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("bowyer"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
