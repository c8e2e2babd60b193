// README: Sets the operator access keys from a key file, optionally minting
// fresh random keys first.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"routescc/internal/auth"
	"routescc/internal/config"
	"routescc/internal/infra"
)

func main() {
	keyFile := flag.String("file", "access_keys.txt", "file with one access key per line")
	generate := flag.Int("generate", 0, "mint this many random keys and append them to the file first")
	keyLength := flag.Int("length", 32, "length of generated keys")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if *generate > 0 {
		if err := appendGenerated(*keyFile, *generate, *keyLength); err != nil {
			log.Fatalf("generate keys: %v", err)
		}
	}

	keys, err := readKeys(*keyFile)
	if err != nil {
		log.Fatalf("read keys: %v", err)
	}
	if len(keys) == 0 {
		log.Fatalf("no keys in %s; nothing to set", *keyFile)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := infra.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.User, cfg.Mongo.Password)
	if err != nil {
		log.Fatalf("mongo init: %v", err)
	}
	defer func() { _ = client.Disconnect(ctx) }()

	store := auth.NewStore(client.Database(cfg.Mongo.Database))
	if err := store.SetKeys(ctx, keys); err != nil {
		log.Fatalf("set keys: %v", err)
	}
	fmt.Printf("set %d access keys\n", len(keys))
}

func appendGenerated(path string, count, length int) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	for i := 0; i < count; i++ {
		key, err := auth.GenerateKey(length)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(f, key); err != nil {
			return err
		}
	}
	return nil
}

func readKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key := scanner.Text()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, scanner.Err()
}
