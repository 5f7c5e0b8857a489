package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orrn/printhub/internal/core"
)

// Uploader ships a finished archive file off the host.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type Config struct {
	Path     string
	Uploader Uploader
	Clock    core.Clock
	Logger   *slog.Logger
}

// Archiver copies print tasks into monthly sqlite files named
// archive_YYYY_MM.db before the retention cleanup deletes them.
type Archiver struct {
	path     string
	uploader Uploader
	now      core.Clock
	log      *slog.Logger
	mu       sync.Mutex
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	TaskCount int       `json:"taskCount"`
	Month     string    `json:"month"`
}

func NewArchiver(cfg Config) (*Archiver, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/archives"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		path:     cfg.Path,
		uploader: cfg.Uploader,
		now:      cfg.Clock,
		log:      cfg.Logger.With("component", "archive"),
	}, nil
}

// ArchiveTasks writes tasks into the current month's archive. Re-archiving a
// task replaces its row. An upload failure is logged; the local file is
// already durable at that point.
func (a *Archiver) ArchiveTasks(ctx context.Context, tasks []*core.PrintTask) error {
	if len(tasks) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	archivePath := filepath.Join(a.path, fmt.Sprintf("archive_%s.db", now.Format("2006_01")))

	archiveDB, err := openArchiveDB(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive database: %w", err)
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}

	for _, t := range tasks {
		if err := insertTask(ctx, tx, t, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to archive task %s: %w", t.TaskID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'printhub')
	`, now); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update archive metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	archiveDB.Close()

	a.log.Info("tasks archived", "file", filepath.Base(archivePath), "count", len(tasks))

	if a.uploader != nil {
		a.upload(ctx, archivePath)
	}
	return nil
}

func (a *Archiver) upload(ctx context.Context, archivePath string) {
	body, err := os.ReadFile(archivePath)
	if err != nil {
		a.log.Warn("failed to read archive for upload", "file", archivePath, "error", err)
		return
	}
	location, err := a.uploader.Upload(ctx, "archives/"+filepath.Base(archivePath), body, "application/vnd.sqlite3")
	if err != nil {
		a.log.Warn("archive upload failed", "file", archivePath, "error", err)
		return
	}
	a.log.Info("archive uploaded", "location", location)
}

func openArchiveDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS print_tasks (
			task_id TEXT PRIMARY KEY,
			order_id INTEGER NOT NULL,
			order_no TEXT,
			merchant_id INTEGER NOT NULL,
			store_id INTEGER,
			kind TEXT NOT NULL,
			content TEXT,
			status TEXT NOT NULL,
			priority TEXT,
			printer_name TEXT,
			retry_count INTEGER DEFAULT 0,
			assigned_client_id TEXT,
			error_message TEXT,
			create_time DATETIME NOT NULL,
			last_update_time DATETIME NOT NULL,
			print_time DATETIME,
			archived_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME,
			source_database TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_tasks_order ON print_tasks(order_id, kind);
		CREATE INDEX IF NOT EXISTS idx_archive_tasks_merchant ON print_tasks(merchant_id);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func insertTask(ctx context.Context, tx *sql.Tx, t *core.PrintTask, archivedAt time.Time) error {
	var printTime sql.NullTime
	if t.PrintTime != nil {
		printTime = sql.NullTime{Time: t.PrintTime.UTC(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO print_tasks (task_id, order_id, order_no, merchant_id, store_id, kind, content, status, priority, printer_name, retry_count, assigned_client_id, error_message, create_time, last_update_time, print_time, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TaskID, t.OrderID, t.OrderNo, t.MerchantID, t.StoreID, string(t.Kind), t.Content,
		string(t.Status), string(t.Priority), t.PrinterName, t.RetryCount, t.AssignedClientID,
		t.ErrorMessage, t.CreateTime.UTC(), t.LastUpdateTime.UTC(), printTime, archivedAt)
	return err
}

// ListArchives returns the archive files on disk, newest month first.
func (a *Archiver) ListArchives(ctx context.Context) ([]*ArchiveFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	files, err := os.ReadDir(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for i := len(files) - 1; i >= 0; i-- {
		file := files[i]
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "archive_") || !strings.HasSuffix(name, ".db") {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		archiveFile := &ArchiveFile{
			Filename:  name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Month:     strings.TrimSuffix(strings.TrimPrefix(name, "archive_"), ".db"),
		}
		if n, err := countTasks(ctx, filepath.Join(a.path, name)); err == nil {
			archiveFile.TaskCount = n
		} else {
			a.log.Warn("failed to count archived tasks", "file", name, "error", err)
		}

		archives = append(archives, archiveFile)
	}

	return archives, nil
}

func countTasks(ctx context.Context, path string) (int, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM print_tasks").Scan(&count)
	return count, err
}
