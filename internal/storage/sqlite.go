package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists entities in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "botsmith.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// nextSeq is the created_seq expression for a row inserted into table.
func nextSeq(table string) string {
	return `(SELECT COALESCE(MAX(created_seq), 0) + 1 FROM ` + table + `)`
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *SQLiteStore) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) deleteByID(table, id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Users ---

func (s *SQLiteStore) CreateUser(username string) (User, error) {
	u := User{ID: uuid.New().String(), Username: username}
	if username == DefaultUserID {
		u.ID = DefaultUserID
	}
	if _, err := s.db.Exec(`INSERT INTO users (id, username) VALUES (?, ?)`, u.ID, u.Username); err != nil {
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUser(id string) (User, error) {
	return s.getUser(`SELECT id, username FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) GetUserByUsername(username string) (User, error) {
	return s.getUser(`SELECT id, username FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) getUser(query, arg string) (User, error) {
	var u User
	err := s.db.QueryRow(query, arg).Scan(&u.ID, &u.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// --- Bots ---

const botColumns = `id, name, description, status, owner_id, created_at, updated_at`

func scanBot(sc rowScanner) (Bot, error) {
	var b Bot
	var desc sql.NullString
	var status, createdAt, updatedAt string
	if err := sc.Scan(&b.ID, &b.Name, &desc, &status, &b.OwnerID, &createdAt, &updatedAt); err != nil {
		return Bot{}, err
	}
	b.Description = stringPtr(desc)
	b.Status = BotStatus(status)
	var err error
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return Bot{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Bot{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) CreateBot(in BotInput) (Bot, error) {
	status := in.Status
	if status == "" {
		status = BotDraft
	}
	t := now()
	b := Bot{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: copyString(in.Description),
		Status:      status,
		OwnerID:     in.OwnerID,
		CreatedAt:   t,
		UpdatedAt:   t,
	}
	_, err := s.db.Exec(`INSERT INTO bots (`+botColumns+`, created_seq) VALUES (?, ?, ?, ?, ?, ?, ?, `+nextSeq("bots")+`)`,
		b.ID, b.Name, nullString(b.Description), string(b.Status), b.OwnerID, formatTime(t), formatTime(t),
	)
	if err != nil {
		return Bot{}, fmt.Errorf("inserting bot: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) GetBot(id string) (Bot, error) {
	b, err := scanBot(s.db.QueryRow(`SELECT `+botColumns+` FROM bots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Bot{}, ErrNotFound
	}
	return b, err
}

func (s *SQLiteStore) ListBots() ([]Bot, error) {
	return s.queryBots(`SELECT ` + botColumns + ` FROM bots ORDER BY created_seq ASC`)
}

func (s *SQLiteStore) ListBotsByOwner(ownerID string) ([]Bot, error) {
	return s.queryBots(`SELECT `+botColumns+` FROM bots WHERE owner_id = ? ORDER BY created_seq ASC`, ownerID)
}

func (s *SQLiteStore) queryBots(query string, args ...any) ([]Bot, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Bot{}
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateBot(id string, p BotPatch) (Bot, error) {
	b, err := s.GetBot(id)
	if err != nil {
		return Bot{}, err
	}
	if p.Name != nil {
		b.Name = *p.Name
	}
	switch {
	case p.ClearDescription:
		b.Description = nil
	case p.Description != nil:
		b.Description = copyString(p.Description)
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	b.UpdatedAt = now()

	res, err := s.db.Exec(`UPDATE bots SET name = ?, description = ?, status = ?, updated_at = ? WHERE id = ?`,
		b.Name, nullString(b.Description), string(b.Status), formatTime(b.UpdatedAt), id,
	)
	if err != nil {
		return Bot{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return Bot{}, err
	} else if n == 0 {
		return Bot{}, ErrNotFound
	}
	return b, nil
}

func (s *SQLiteStore) DeleteBot(id string) (bool, error) {
	return s.deleteByID("bots", id)
}

// --- Training data ---

const trainingDataColumns = `id, bot_id, file_name, file_url, file_size, file_type, content, processed, processing_error, uploaded_at`

func scanTrainingData(sc rowScanner) (TrainingData, error) {
	var td TrainingData
	var content sql.NullString
	var uploadedAt string
	if err := sc.Scan(&td.ID, &td.BotID, &td.FileName, &td.FileURL, &td.FileSize, &td.FileType,
		&content, &td.Processed, &td.ProcessingError, &uploadedAt); err != nil {
		return TrainingData{}, err
	}
	td.Content = stringPtr(content)
	t, err := parseTime(uploadedAt)
	if err != nil {
		return TrainingData{}, fmt.Errorf("parsing uploaded_at: %w", err)
	}
	td.UploadedAt = t
	return td, nil
}

func (s *SQLiteStore) CreateTrainingData(in TrainingDataInput) (TrainingData, error) {
	fileType := in.FileType
	if fileType == "" {
		fileType = defaultFileType
	}
	td := TrainingData{
		ID:         uuid.New().String(),
		BotID:      in.BotID,
		FileName:   in.FileName,
		FileURL:    in.FileURL,
		FileSize:   in.FileSize,
		FileType:   fileType,
		UploadedAt: now(),
	}
	_, err := s.db.Exec(`INSERT INTO training_data (`+trainingDataColumns+`, created_seq) VALUES (?, ?, ?, ?, ?, ?, NULL, 0, '', ?, `+nextSeq("training_data")+`)`,
		td.ID, td.BotID, td.FileName, td.FileURL, td.FileSize, td.FileType, formatTime(td.UploadedAt),
	)
	if err != nil {
		return TrainingData{}, fmt.Errorf("inserting training data: %w", err)
	}
	return td, nil
}

func (s *SQLiteStore) GetTrainingData(id string) (TrainingData, error) {
	td, err := scanTrainingData(s.db.QueryRow(`SELECT `+trainingDataColumns+` FROM training_data WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return TrainingData{}, ErrNotFound
	}
	return td, err
}

func (s *SQLiteStore) ListTrainingData() ([]TrainingData, error) {
	return s.queryTrainingData(`SELECT ` + trainingDataColumns + ` FROM training_data ORDER BY created_seq ASC`)
}

func (s *SQLiteStore) ListTrainingDataByBot(botID string) ([]TrainingData, error) {
	return s.queryTrainingData(`SELECT `+trainingDataColumns+` FROM training_data WHERE bot_id = ? ORDER BY created_seq ASC`, botID)
}

func (s *SQLiteStore) queryTrainingData(query string, args ...any) ([]TrainingData, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TrainingData{}
	for rows.Next() {
		td, err := scanTrainingData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, td)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CompleteTrainingData(id, content string) (TrainingData, error) {
	return s.setTrainingState(id, sql.NullString{String: content, Valid: true}, true, "")
}

func (s *SQLiteStore) FailTrainingData(id, reason string) (TrainingData, error) {
	return s.setTrainingState(id, sql.NullString{}, false, reason)
}

func (s *SQLiteStore) ResetTrainingData(id string) (TrainingData, error) {
	return s.setTrainingState(id, sql.NullString{}, false, "")
}

// setTrainingState writes content, processed and the error reason in one statement.
func (s *SQLiteStore) setTrainingState(id string, content sql.NullString, processed bool, reason string) (TrainingData, error) {
	res, err := s.db.Exec(`UPDATE training_data SET content = ?, processed = ?, processing_error = ? WHERE id = ?`,
		content, processed, reason, id)
	if err != nil {
		return TrainingData{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return TrainingData{}, err
	}
	if n == 0 {
		return TrainingData{}, ErrNotFound
	}
	return s.GetTrainingData(id)
}

func (s *SQLiteStore) DeleteTrainingData(id string) (bool, error) {
	return s.deleteByID("training_data", id)
}

// --- Conversations ---

const conversationColumns = `id, bot_id, messages, started_at, ended_at`

func scanConversation(sc rowScanner) (Conversation, error) {
	var c Conversation
	var messages, startedAt string
	var endedAt sql.NullString
	if err := sc.Scan(&c.ID, &c.BotID, &messages, &startedAt, &endedAt); err != nil {
		return Conversation{}, err
	}
	if err := json.Unmarshal([]byte(messages), &c.Messages); err != nil {
		return Conversation{}, fmt.Errorf("decoding messages: %w", err)
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	var err error
	if c.StartedAt, err = parseTime(startedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if c.EndedAt, err = scanNullTime(endedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing ended_at: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateConversation(botID string, msgs []Message) (Conversation, error) {
	c := Conversation{
		ID:        uuid.New().String(),
		BotID:     botID,
		Messages:  append([]Message{}, msgs...),
		StartedAt: now(),
	}
	b, err := json.Marshal(c.Messages)
	if err != nil {
		return Conversation{}, fmt.Errorf("encoding messages: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO conversations (`+conversationColumns+`, created_seq) VALUES (?, ?, ?, ?, NULL, `+nextSeq("conversations")+`)`,
		c.ID, c.BotID, string(b), formatTime(c.StartedAt))
	if err != nil {
		return Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetConversation(id string) (Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) ListConversationsByBot(botID string) ([]Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations WHERE bot_id = ? ORDER BY created_seq ASC`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessages(id string, msgs ...Message) (Conversation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Conversation{}, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	c, err := scanConversation(tx.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.Messages = append(c.Messages, msgs...)
	b, err := json.Marshal(c.Messages)
	if err != nil {
		return Conversation{}, fmt.Errorf("encoding messages: %w", err)
	}
	if _, err := tx.Exec(`UPDATE conversations SET messages = ? WHERE id = ?`, string(b), id); err != nil {
		return Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("committing append: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) EndConversation(id string) (Conversation, error) {
	if _, err := s.db.Exec(`UPDATE conversations SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(now()), id); err != nil {
		return Conversation{}, err
	}
	return s.GetConversation(id)
}

func (s *SQLiteStore) DeleteConversation(id string) (bool, error) {
	return s.deleteByID("conversations", id)
}

// --- Integrations ---

const integrationColumns = `id, bot_id, platform, config, enabled, connected_at`

func scanIntegration(sc rowScanner) (Integration, error) {
	var i Integration
	var config string
	var connectedAt sql.NullString
	if err := sc.Scan(&i.ID, &i.BotID, &i.Platform, &config, &i.Enabled, &connectedAt); err != nil {
		return Integration{}, err
	}
	if err := json.Unmarshal([]byte(config), &i.Config); err != nil {
		return Integration{}, fmt.Errorf("decoding config: %w", err)
	}
	if i.Config == nil {
		i.Config = map[string]any{}
	}
	var err error
	if i.ConnectedAt, err = scanNullTime(connectedAt); err != nil {
		return Integration{}, fmt.Errorf("parsing connected_at: %w", err)
	}
	return i, nil
}

func (s *SQLiteStore) CreateIntegration(in IntegrationInput) (Integration, error) {
	i := Integration{
		ID:       uuid.New().String(),
		BotID:    in.BotID,
		Platform: in.Platform,
		Config:   copyConfig(in.Config),
		Enabled:  in.Enabled,
	}
	if in.Enabled {
		t := now()
		i.ConnectedAt = &t
	}
	if err := s.writeIntegration(`INSERT INTO integrations (platform, config, enabled, connected_at, id, bot_id, created_seq) VALUES (?, ?, ?, ?, ?, ?, `+nextSeq("integrations")+`)`, i); err != nil {
		return Integration{}, fmt.Errorf("inserting integration: %w", err)
	}
	return i, nil
}

func (s *SQLiteStore) writeIntegration(query string, i Integration) error {
	b, err := json.Marshal(i.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = s.db.Exec(query, i.Platform, string(b), i.Enabled, nullTime(i.ConnectedAt), i.ID, i.BotID)
	return err
}

func (s *SQLiteStore) GetIntegration(id string) (Integration, error) {
	i, err := scanIntegration(s.db.QueryRow(`SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Integration{}, ErrNotFound
	}
	return i, err
}

func (s *SQLiteStore) ListIntegrationsByBot(botID string) ([]Integration, error) {
	rows, err := s.db.Query(`SELECT `+integrationColumns+` FROM integrations WHERE bot_id = ? ORDER BY created_seq ASC`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Integration{}
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateIntegration(id string, p IntegrationPatch) (Integration, error) {
	i, err := s.GetIntegration(id)
	if err != nil {
		return Integration{}, err
	}
	applyIntegrationPatch(&i, p)
	if err := s.writeIntegration(`UPDATE integrations SET platform = ?, config = ?, enabled = ?, connected_at = ? WHERE id = ? AND bot_id = ?`, i); err != nil {
		return Integration{}, fmt.Errorf("updating integration: %w", err)
	}
	return i, nil
}

func (s *SQLiteStore) DeleteIntegration(id string) (bool, error) {
	return s.deleteByID("integrations", id)
}
