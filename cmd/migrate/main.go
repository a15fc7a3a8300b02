// Команда migrate применяет SQL-миграции из migrations/.
//
// Использование:
//
//	migrate [-path dir] [-database-url url] <command> [arg]
//
// Команды: up [n], down [n], force <version>, version, drop, create <name>.
// URL базы берётся из флага, затем из DATABASE_URL, затем собирается из
// PAYFLOW_DATABASE_* (те же переменные, что читает движок).
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	path := flag.String("path", "./migrations", "каталог с файлами миграций")
	url := flag.String("database-url", "", "postgres:// URL; по умолчанию из окружения")
	flag.Parse()

	if err := run(*path, databaseURL(*url), flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(path, url string, args []string) error {
	if url == "" {
		return errors.New("no database URL: pass -database-url or set DATABASE_URL")
	}

	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	m, err := migrate.New("file://"+path, url)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	defer m.Close()
	m.Log = verboseLogger{}

	switch command {
	case "up", "down":
		return shift(m, command, args)
	case "force":
		version, err := intArg(args, "force", "version")
		if err != nil {
			return err
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		fmt.Printf("schema version forced to %d\n", version)
		return nil
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("schema is empty, no migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		fmt.Printf("schema version %d, dirty=%v\n", version, dirty)
		return nil
	case "drop":
		if err := m.Drop(); err != nil {
			return fmt.Errorf("drop failed: %w", err)
		}
		fmt.Println("schema dropped")
		return nil
	case "create":
		if len(args) < 2 {
			return errors.New("create needs a migration name")
		}
		// Генератора файлов нет: нумерованные пары создаются руками
		// рядом с существующими.
		fmt.Printf("add a pair of files under %s:\n", path)
		fmt.Printf("  NNNNNN_%s.up.sql\n  NNNNNN_%s.down.sql\n", args[1], args[1])
		return nil
	default:
		return fmt.Errorf("unknown command %q (up, down, force, version, drop, create)", command)
	}
}

// shift применяет миграции вверх или вниз, целиком или на n шагов.
func shift(m *migrate.Migrate, direction string, args []string) error {
	steps := 0
	if len(args) > 1 {
		var err error
		if steps, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("bad step count %q: %w", args[1], err)
		}
	}

	var err error
	switch {
	case direction == "up" && steps > 0:
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	case steps > 0:
		err = m.Steps(-steps)
	default:
		err = m.Down()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s failed: %w", direction, err)
	}
	fmt.Printf("migrate %s done\n", direction)
	return nil
}

func intArg(args []string, command, name string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s needs a %s argument", command, name)
	}
	v, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", name, args[1], err)
	}
	return v, nil
}

// databaseURL выбирает URL базы: флаг, DATABASE_URL, иначе сборка из
// PAYFLOW_DATABASE_* с теми же дефолтами, что у движка.
func databaseURL(fromFlag string) string {
	if fromFlag != "" {
		return fromFlag
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		envOr("PAYFLOW_DATABASE_USER", "postgres"),
		envOr("PAYFLOW_DATABASE_PASSWORD", "postgres"),
		envOr("PAYFLOW_DATABASE_HOST", "localhost"),
		envOr("PAYFLOW_DATABASE_PORT", "5432"),
		envOr("PAYFLOW_DATABASE_NAME", "payflow"),
		envOr("PAYFLOW_DATABASE_SSLMODE", "disable"))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// verboseLogger выводит прогресс golang-migrate через стандартный log.
type verboseLogger struct{}

func (verboseLogger) Printf(format string, v ...any) { log.Printf(format, v...) }
func (verboseLogger) Verbose() bool                  { return true }
