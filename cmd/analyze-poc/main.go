package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/raine/myakuari-bot/internal/analysis"
	"github.com/raine/myakuari-bot/internal/config"
	"github.com/raine/myakuari-bot/internal/imageproc"
)

func main() {
	text := flag.String("text", "", "relationship description")
	variantName := flag.String("variant", "", "schema variant (couple or emotional), defaults to config")
	raw := flag.Bool("raw", false, "print the model's raw text instead of the decoded result")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-text description] [-variant couple|emotional] [-raw] [image-path...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  ANALYSIS_BACKEND     - proxy (default) or gemini\n")
		fmt.Fprintf(os.Stderr, "  ANALYSIS_ENDPOINT    - Required for proxy\n")
		fmt.Fprintf(os.Stderr, "  ANALYSIS_PROXY_TOKEN - Bearer token for proxy\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY       - Required for gemini\n")
		fmt.Fprintf(os.Stderr, "  ANALYSIS_TIMEOUT     - Per-request deadline (default 120s, 0 = none)\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	config.LoadEnvFile()
	cfg := loadConfig()
	if *variantName != "" {
		cfg.SchemaVariant = *variantName
	}

	variant, err := analysis.ParseVariant(cfg.SchemaVariant)
	if err != nil {
		exitf("%v", err)
	}

	input := analysis.Input{FreeText: analysis.TruncateFreeText(strings.TrimSpace(*text))}
	processor := imageproc.NewProcessor(imageproc.Options{
		MaxWidth:        cfg.ImageMaxWidth,
		MaxHeight:       cfg.ImageMaxHeight,
		MaxBytes:        cfg.ImageMaxBytes,
		MaxSourcePixels: cfg.ImageMaxSourcePixels,
		Strict:          cfg.ImageStrict,
	})
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			exitf("Failed to read image: %v", err)
		}
		blob, err := processor.Process(data)
		if err != nil {
			exitf("Failed to process %s: %v", path, err)
		}
		fmt.Printf("Image:       %s -> %dx%d q%d %d bytes\n", path, blob.Width, blob.Height, blob.Quality, len(blob.Data))
		input.Images = append(input.Images, *blob)
	}
	if err := input.Validate(); err != nil {
		exitf("%v", err)
	}

	ctx := context.Background()
	sender, err := newSender(ctx, cfg)
	if err != nil {
		exitf("Error creating client: %v", err)
	}
	builder := analysis.NewBuilder(cfg.Model, variant, analysis.GenerationOverrides{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})

	fmt.Printf("=== %s / %s / %s ===\n", strings.ToUpper(string(cfg.Backend)), cfg.Model, variant)

	started := time.Now()
	if *raw {
		envelope, err := sender.Send(ctx, builder.Build(input))
		if err != nil {
			exitf("Error sending request: %v", err)
		}
		text, err := analysis.NewParser(variant).ExtractText(envelope)
		if err != nil {
			fmt.Println(string(envelope))
			exitf("Error extracting text: %v", err)
		}
		fmt.Println(text)
		fmt.Printf("\nTook:        %s\n", time.Since(started).Round(time.Millisecond))
		return
	}

	result, err := analysis.NewPipeline(builder, sender).Analyze(ctx, input)
	if err != nil {
		exitf("Error analyzing: %v", err)
	}
	printResult(result)
	fmt.Printf("Took:        %s\n", time.Since(started).Round(time.Millisecond))
}

// loadConfig reads the config without requiring the bot-only settings.
func loadConfig() *config.Config {
	for _, key := range []string{"BOT_TOKEN", "MYAKUARI_SECRET_KEY"} {
		if os.Getenv(key) == "" {
			os.Setenv(key, "unused")
		}
	}
	cfg, err := config.Load()
	if err != nil {
		exitf("%v", err)
	}
	return cfg
}

func newSender(ctx context.Context, cfg *config.Config) (analysis.Sender, error) {
	if cfg.Backend == config.BackendGemini {
		return analysis.NewGeminiClient(ctx, analysis.GeminiClientOpts{
			APIKey:  cfg.GeminiAPIKey,
			Timeout: cfg.RequestTimeout,
		})
	}
	return analysis.NewProxyClient(analysis.ProxyClientOpts{
		Endpoint: cfg.Endpoint,
		Token:    cfg.ProxyToken,
		Timeout:  cfg.RequestTimeout,
	}), nil
}

func printResult(result *analysis.Result) {
	fmt.Printf("Possibility: %d\n", result.CouplePossibility)
	if result.Confidence != nil {
		fmt.Printf("Confidence:  %d\n", *result.Confidence)
	}
	fmt.Printf("Reason:      %s\n", result.JudgmentReason)
	fmt.Printf("Suggestion:  %s\n", result.ImprovementSuggestion)
	fmt.Printf("Message:     %s\n", result.EncouragementMessage)
}

func exitf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
