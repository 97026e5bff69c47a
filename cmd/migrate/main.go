package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"news_bot/migrations"
)

type command struct {
	name string
	help string
	run  func(db *sql.DB) error
}

var commands = []command{
	{"up", "Migrate to the latest version", func(db *sql.DB) error { return goose.Up(db, ".") }},
	{"up-one", "Migrate one version up", func(db *sql.DB) error { return goose.UpByOne(db, ".") }},
	{"down", "Roll back one version", func(db *sql.DB) error { return goose.Down(db, ".") }},
	{"status", "Show migration status", func(db *sql.DB) error { return goose.Status(db, ".") }},
	{"version", "Show current version", func(db *sql.DB) error { return goose.Version(db, ".") }},
	{"reset", "Roll back all migrations (drops feeds and watermarks)", func(db *sql.DB) error { return goose.Reset(db, ".") }},
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/bot.db"), "path to sqlite database")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd, ok := lookup(args[0])
	if !ok {
		log.Fatalf("unknown command: %s", args[0])
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(migrations.Dialect); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	if err := cmd.run(db); err != nil {
		log.Fatalf("%s: %v", cmd.name, err)
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s  %s\n", c.name, c.help)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
