package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/internal/transcription"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

// TranscriptStorage archives final transcription results in SQLite. It
// implements transcription.TranscriptStore.
type TranscriptStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTranscriptStorage opens (or creates) the database at dbPath.
func NewTranscriptStorage(dbPath string, log *logger.Logger) (*TranscriptStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &TranscriptStorage{
		db:     db,
		logger: log.Named("sqlite-transcripts"),
	}
	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return storage, nil
}

// initDB initializes the database tables
func (s *TranscriptStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			content TEXT NOT NULL,
			start_seconds REAL NOT NULL,
			end_seconds REAL NOT NULL,
			language TEXT,
			words TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcripts table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_session_id ON transcripts(session_id)`)
	if err != nil {
		return fmt.Errorf("failed to create session_id index: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_created_at ON transcripts(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}
	return nil
}

// StoreTranscript inserts one final result and returns its row id.
func (s *TranscriptStorage) StoreTranscript(t *transcription.Transcript) (int64, error) {
	var words []byte
	if len(t.Words) > 0 {
		var err error
		words, err = json.Marshal(t.Words)
		if err != nil {
			return 0, fmt.Errorf("failed to encode words: %w", err)
		}
	}

	result, err := s.db.Exec(`
		INSERT INTO transcripts (session_id, created_at, content, start_seconds, end_seconds, language, words)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.SessionID, t.CreatedAt, t.Text, t.Start, t.End, t.Language, string(words))
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcript: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	s.logger.Debug("Stored transcript",
		logger.Int64("id", id),
		logger.String("session_id", t.SessionID))
	return id, nil
}

// GetTranscripts returns archived transcripts, newest first.
func (s *TranscriptStorage) GetTranscripts(limit, offset int) ([]*transcription.Transcript, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, created_at, content, start_seconds, end_seconds, language, words
		FROM transcripts
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()
	return scanTranscripts(rows)
}

// GetTranscriptsBySession returns transcripts for one session in span
// order.
func (s *TranscriptStorage) GetTranscriptsBySession(sessionID string, limit, offset int) ([]*transcription.Transcript, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, created_at, content, start_seconds, end_seconds, language, words
		FROM transcripts
		WHERE session_id = ?
		ORDER BY start_seconds ASC
		LIMIT ? OFFSET ?
	`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts by session: %w", err)
	}
	defer rows.Close()
	return scanTranscripts(rows)
}

func scanTranscripts(rows *sql.Rows) ([]*transcription.Transcript, error) {
	var transcripts []*transcription.Transcript
	for rows.Next() {
		var (
			t         transcription.Transcript
			createdAt time.Time
			language  sql.NullString
			words     sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &createdAt, &t.Text, &t.Start, &t.End, &language, &words); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		t.CreatedAt = createdAt
		t.Language = language.String
		if words.Valid && words.String != "" {
			var decoded []asr.Word
			if err := json.Unmarshal([]byte(words.String), &decoded); err == nil {
				t.Words = decoded
			}
		}
		transcripts = append(transcripts, &t)
	}
	return transcripts, rows.Err()
}

// Close closes the underlying database.
func (s *TranscriptStorage) Close() error {
	return s.db.Close()
}
