package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/asetia/portfolio-assistant/internal/config"
	"github.com/asetia/portfolio-assistant/internal/model/rag"
	"github.com/asetia/portfolio-assistant/internal/service/retrieval"
)

// Ingests the portfolio markdown documents into the pgvector chunk table.
// Files under a "career" or "projects" directory get that category; anything
// else stays uncategorized.
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env file, using process environment: %v", err)
	}

	dir := flag.String("dir", "content", "directory of markdown documents to ingest")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall ingest timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("DATABASE_URL is required for ingestion")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	embedder, err := cfg.Embedding.NewEmbedder(ctx)
	if err != nil {
		log.Fatalf("embedder init failed: %v", err)
	}

	index := retrieval.NewPgIndex(db)
	if err := index.EnsureSchema(ctx, cfg.Embedding.Dimensions); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	var files []string
	err = filepath.WalkDir(*dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("scan %s failed: %v", *dir, err)
	}
	if len(files) == 0 {
		log.Fatalf("no markdown files under %s", *dir)
	}

	total := 0
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s failed: %v", path, err)
		}

		rel, err := filepath.Rel(*dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		source := filepath.ToSlash(rel)

		chunks := retrieval.SplitMarkdown(source, categoryFor(source), string(raw))
		if len(chunks) == 0 {
			log.Printf("[WARN] %s produced no chunks, skipping", source)
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		embeddings, err := embedder.EmbedStrings(ctx, texts)
		if err != nil {
			log.Fatalf("embed %s failed: %v", source, err)
		}
		if len(embeddings) != len(chunks) {
			log.Fatalf("embed %s: got %d vectors for %d chunks", source, len(embeddings), len(chunks))
		}

		vectors := make([][]float32, len(embeddings))
		for i, emb := range embeddings {
			vec := make([]float32, len(emb))
			for j, v := range emb {
				vec[j] = float32(v)
			}
			vectors[i] = vec
		}

		if err := index.ReplaceSource(ctx, source, chunks, vectors); err != nil {
			log.Fatalf("store %s failed: %v", source, err)
		}
		log.Printf("ingested %s: %d chunks", source, len(chunks))
		total += len(chunks)
	}

	log.Printf("done: %d chunks across %d files", total, len(files))
}

func categoryFor(source string) string {
	switch {
	case strings.Contains(source, "career/") || strings.HasPrefix(source, "resume"):
		return rag.CategoryCareer
	case strings.Contains(source, "projects/"):
		return rag.CategoryProjects
	default:
		return ""
	}
}
