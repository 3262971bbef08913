package main

import (
	"flag"
	"log"

	"github.com/danmuck/simcircuit/internal/config"
)

func main() {
	kind := flag.String("kind", "client", "config kind: client|messages")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		switch *kind {
		case "client":
			cfg, err := config.LoadClientConfig(path)
			if err != nil {
				log.Fatal(err)
			}
			if _, err := config.ClientOptions(cfg); err != nil {
				log.Fatal(err)
			}
			if _, err := config.Registry(cfg); err != nil {
				log.Fatal(err)
			}
		case "messages":
			if _, err := config.Registry(config.ClientConfig{TemplatePath: path}); err != nil {
				log.Fatal(err)
			}
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "client":
		return "cmd/circuitctl/config.toml"
	case "messages":
		return "cmd/circuitctl/messages.msg"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}
