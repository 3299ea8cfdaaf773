package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lcnsqr/ghtraffic"
	"github.com/sirupsen/logrus"
)

type options struct {
	Host         string `long:"host" default:"localhost" description:"Host to listen on"`
	Port         int    `long:"port" short:"p" default:"5274" description:"Port to listen on"`
	Variant      string `long:"variant" default:"views" description:"Dataset variant to serve"`
	Input        string `long:"input" short:"i" value-name:"FILE" description:"Serve records from FILE instead of the embedded dataset"`
	Relaxed      bool   `long:"relaxed" description:"Split input lines on commas or whitespace instead of strict CSV"`
	ListVariants bool   `long:"list-variants" description:"List the built-in dataset variants and exit"`
	Verbose      bool   `long:"verbose" short:"v" description:"Enable debug logging"`
}

func main() {
	var opts options
	_, err := flags.Parse(&opts)
	if err != nil {
		// go-flags already printed the problem (or the help text)
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.ListVariants {
		for _, name := range ghtraffic.VariantNames() {
			fmt.Println(name)
		}
		return
	}

	if opts.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()

	variant, ok := ghtraffic.LookupVariant(opts.Variant)
	if !ok {
		logrus.Fatalf("unknown variant %q (see --list-variants)", opts.Variant)
	}

	var dataset *ghtraffic.Dataset
	if opts.Input != "" {
		file, err := os.Open(opts.Input)
		if err != nil {
			logrus.WithError(err).Fatal("cannot open input file")
		}
		defer file.Close()

		var stringReader ghtraffic.StringReader = ghtraffic.NewCsvStringReader(file)
		if opts.Relaxed {
			stringReader = ghtraffic.NewRelaxedStringReader(file)
		}

		dataset, err = ghtraffic.ReadDataset(ctx, &ghtraffic.TextToRecordReader{Input: stringReader})
		if err != nil {
			logrus.WithError(err).Fatal("cannot load dataset from input file")
		}
	} else {
		dataset, err = variant.Open(ctx)
		if err != nil {
			logrus.WithError(err).Fatal("cannot load embedded dataset")
		}
	}

	if dataset.Len() == 0 {
		logrus.Fatal("no records loaded")
	}

	metadata := ghtraffic.NewMetadata(variant, dataset)

	streamer := ghtraffic.NewStreamer(dataset.Reader())
	streamer.Start(ctx)

	server := ghtraffic.NewHttpServer(streamer, opts.Host, opts.Port, metadata, dataset, 100*time.Millisecond)
	if err := server.Run(); err != nil {
		logrus.WithError(err).Fatal("HTTP server failed")
	}
}
