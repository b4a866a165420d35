package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/govmatrix/backend/internal/storage/models"
	"github.com/govmatrix/backend/pkg/logger"
)

var (
	ErrDuplicateProject = errors.New("project id already exists")
	ErrNotFound         = errors.New("record not found")
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		project_name TEXT NOT NULL,
		workflow TEXT NOT NULL,
		template TEXT NOT NULL,
		owner TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Opened',
		answers TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner);

	CREATE TABLE IF NOT EXISTS risks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		risk_assessment_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		project_id TEXT,
		risk_name TEXT NOT NULL,
		risk_owner TEXT NOT NULL,
		severity INTEGER NOT NULL CHECK (severity BETWEEN 1 AND 5),
		justification TEXT,
		mitigation TEXT,
		target_date INTEGER,
		status TEXT NOT NULL DEFAULT 'Not Set',
		strategy_status TEXT NOT NULL DEFAULT 'Not Set',
		created_by TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_risks_session ON risks(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_risks_assessment ON risks(risk_assessment_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_risks_project ON risks(project_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_risks_severity ON risks(severity);

	CREATE TABLE IF NOT EXISTS controls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		code TEXT NOT NULL,
		section TEXT,
		control_text TEXT,
		requirements TEXT,
		status TEXT NOT NULL DEFAULT 'Not Implemented',
		tickets TEXT NOT NULL DEFAULT 'None',
		project_id TEXT,
		related_risks TEXT NOT NULL CHECK (length(related_risks) > 0),
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_controls_project ON controls(project_id);
	CREATE INDEX IF NOT EXISTS idx_controls_code ON controls(code);

	CREATE TABLE IF NOT EXISTS governance_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		eu_score REAL NOT NULL DEFAULT 0,
		nist_score REAL NOT NULL DEFAULT 0,
		iso_score REAL NOT NULL DEFAULT 0,
		overall_score REAL NOT NULL DEFAULT 0,
		implemented_controls_count INTEGER NOT NULL DEFAULT 0,
		total_controls_count INTEGER NOT NULL DEFAULT 0,
		assessment_date INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_scores_project_date ON governance_scores(project_id, assessment_date);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		tags TEXT,
		weights TEXT,
		ord INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (c *Client) InsertProject(p *models.Project) error {
	answersJSON, err := json.Marshal(p.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal questionnaire answers: %w", err)
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO projects (project_id, project_name, workflow, template, owner, status, answers, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = c.db.Exec(
		query,
		p.ProjectID,
		p.ProjectName,
		p.Workflow,
		p.Template,
		p.Owner,
		p.Status,
		string(answersJSON),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateProject, p.ProjectID)
		}
		return fmt.Errorf("failed to insert project: %w", err)
	}

	logger.Debug("Project inserted", zap.String("project_id", p.ProjectID))
	return nil
}

func (c *Client) GetProject(projectID string) (*models.Project, error) {
	query := `SELECT project_id, project_name, workflow, template, owner, status, answers, created_at, updated_at FROM projects WHERE project_id = ?`

	var p models.Project
	var answersJSON string
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, projectID).Scan(
		&p.ProjectID,
		&p.ProjectName,
		&p.Workflow,
		&p.Template,
		&p.Owner,
		&p.Status,
		&answersJSON,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	if err := json.Unmarshal([]byte(answersJSON), &p.Answers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questionnaire answers: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	return &p, nil
}

// InsertRisks bulk-inserts a batch inside one transaction. A failure on any
// row aborts the whole batch.
func (c *Client) InsertRisks(risks []models.Risk) ([]models.Risk, error) {
	if len(risks) == 0 {
		return nil, nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO risks (risk_assessment_id, session_id, project_id, risk_name, risk_owner, severity,
			justification, mitigation, target_date, status, strategy_status, created_by, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare risk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	inserted := make([]models.Risk, 0, len(risks))
	for _, r := range risks {
		var targetDate interface{}
		if r.TargetDate != nil {
			targetDate = r.TargetDate.Unix()
		}

		res, err := stmt.Exec(
			r.RiskAssessmentID,
			r.SessionID,
			r.ProjectID,
			r.RiskName,
			r.RiskOwner,
			r.Severity,
			r.Justification,
			r.Mitigation,
			targetDate,
			r.Status,
			r.StrategyStatus,
			r.CreatedBy,
			boolToInt(r.IsActive),
			now.Unix(),
			now.Unix(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert risk %q: %w", r.RiskName, err)
		}

		r.ID, _ = res.LastInsertId()
		r.CreatedAt = now
		r.UpdatedAt = now
		inserted = append(inserted, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit risk batch: %w", err)
	}

	logger.Debug("Risk batch inserted", zap.Int("count", len(inserted)))
	return inserted, nil
}

func (c *Client) GetRisksBySession(sessionID string) ([]models.Risk, error) {
	return c.queryRisks(`WHERE session_id = ? AND is_active = 1 ORDER BY severity DESC, created_at DESC`, sessionID)
}

func (c *Client) GetRisksByAssessment(riskAssessmentID string) ([]models.Risk, error) {
	return c.queryRisks(`WHERE risk_assessment_id = ? AND is_active = 1 ORDER BY severity DESC, created_at DESC`, riskAssessmentID)
}

func (c *Client) GetRisksByProject(projectID string, limit int) ([]models.Risk, error) {
	return c.queryRisks(`WHERE project_id = ? AND is_active = 1 ORDER BY severity DESC, created_at DESC LIMIT ?`, projectID, limit)
}

func (c *Client) queryRisks(clause string, args ...interface{}) ([]models.Risk, error) {
	query := `
		SELECT id, risk_assessment_id, session_id, project_id, risk_name, risk_owner, severity,
			justification, mitigation, target_date, status, strategy_status, created_by, is_active, created_at, updated_at
		FROM risks ` + clause

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query risks: %w", err)
	}
	defer rows.Close()

	var risks []models.Risk
	for rows.Next() {
		var r models.Risk
		var projectID, justification, mitigation sql.NullString
		var targetDate sql.NullInt64
		var isActive int
		var createdAt, updatedAt int64

		err := rows.Scan(
			&r.ID,
			&r.RiskAssessmentID,
			&r.SessionID,
			&projectID,
			&r.RiskName,
			&r.RiskOwner,
			&r.Severity,
			&justification,
			&mitigation,
			&targetDate,
			&r.Status,
			&r.StrategyStatus,
			&r.CreatedBy,
			&isActive,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk row: %w", err)
		}

		r.ProjectID = projectID.String
		r.Justification = justification.String
		r.Mitigation = mitigation.String
		if targetDate.Valid {
			t := time.Unix(targetDate.Int64, 0)
			r.TargetDate = &t
		}
		r.IsActive = isActive == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		r.UpdatedAt = time.Unix(updatedAt, 0)
		risks = append(risks, r)
	}

	return risks, rows.Err()
}

func (c *Client) SoftDeleteRisk(id int64) error {
	res, err := c.db.Exec(`UPDATE risks SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to delete risk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: risk %d", ErrNotFound, id)
	}
	return nil
}

// InsertControls bulk-inserts a batch inside one transaction, so an invalid
// row (including an empty related_risks) leaves nothing behind.
func (c *Client) InsertControls(controls []models.Control) ([]models.Control, error) {
	if len(controls) == 0 {
		return nil, nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO controls (owner, code, section, control_text, requirements, status, tickets,
			project_id, related_risks, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare control insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	inserted := make([]models.Control, 0, len(controls))
	for _, ctrl := range controls {
		res, err := stmt.Exec(
			ctrl.Owner,
			ctrl.Code,
			ctrl.Section,
			ctrl.Control,
			ctrl.Requirements,
			ctrl.Status,
			ctrl.Tickets,
			ctrl.ProjectID,
			ctrl.RelatedRisks,
			boolToInt(ctrl.IsActive),
			now.Unix(),
			now.Unix(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert control %q: %w", ctrl.Code, err)
		}

		ctrl.ID, _ = res.LastInsertId()
		ctrl.CreatedAt = now
		ctrl.UpdatedAt = now
		inserted = append(inserted, ctrl)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit control batch: %w", err)
	}

	logger.Debug("Control batch inserted", zap.Int("count", len(inserted)))
	return inserted, nil
}

func (c *Client) GetControl(id int64) (*models.Control, error) {
	controls, err := c.queryControls(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(controls) == 0 {
		return nil, fmt.Errorf("%w: control %d", ErrNotFound, id)
	}
	return &controls[0], nil
}

func (c *Client) GetControlsByProject(projectID string) ([]models.Control, error) {
	return c.queryControls(`WHERE project_id = ? AND is_active = 1 ORDER BY created_at DESC`, projectID)
}

func (c *Client) queryControls(clause string, args ...interface{}) ([]models.Control, error) {
	query := `
		SELECT id, owner, code, section, control_text, requirements, status, tickets,
			project_id, related_risks, is_active, created_at, updated_at
		FROM controls ` + clause

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query controls: %w", err)
	}
	defer rows.Close()

	var controls []models.Control
	for rows.Next() {
		var ctrl models.Control
		var section, controlText, requirements, projectID sql.NullString
		var isActive int
		var createdAt, updatedAt int64

		err := rows.Scan(
			&ctrl.ID,
			&ctrl.Owner,
			&ctrl.Code,
			&section,
			&controlText,
			&requirements,
			&ctrl.Status,
			&ctrl.Tickets,
			&projectID,
			&ctrl.RelatedRisks,
			&isActive,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan control row: %w", err)
		}

		ctrl.Section = section.String
		ctrl.Control = controlText.String
		ctrl.Requirements = requirements.String
		ctrl.ProjectID = projectID.String
		ctrl.IsActive = isActive == 1
		ctrl.CreatedAt = time.Unix(createdAt, 0)
		ctrl.UpdatedAt = time.Unix(updatedAt, 0)
		controls = append(controls, ctrl)
	}

	return controls, rows.Err()
}

// ControlPatch carries the updatable control fields. Nil means "leave as is".
type ControlPatch struct {
	Code         *string
	Section      *string
	Control      *string
	Requirements *string
	Status       *string
	Tickets      *string
	RelatedRisks *string
}

func (c *Client) UpdateControl(id int64, patch ControlPatch) (*models.Control, error) {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().Unix()}

	add := func(column string, v *string) {
		if v != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *v)
		}
	}
	add("code", patch.Code)
	add("section", patch.Section)
	add("control_text", patch.Control)
	add("requirements", patch.Requirements)
	add("status", patch.Status)
	add("tickets", patch.Tickets)
	add("related_risks", patch.RelatedRisks)

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE controls SET %s WHERE id = ? AND is_active = 1`, strings.Join(sets, ", "))

	res, err := c.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update control: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: control %d", ErrNotFound, id)
	}

	return c.GetControl(id)
}

func (c *Client) SoftDeleteControl(id int64) error {
	res, err := c.db.Exec(`UPDATE controls SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to delete control: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: control %d", ErrNotFound, id)
	}
	return nil
}

// InsertScoreSnapshot appends a new score row. "Current" is a query over
// max(assessment_date), never a physical overwrite, so concurrent writers
// for the same project cannot clobber each other.
func (c *Client) InsertScoreSnapshot(s *models.ScoreSnapshot) error {
	now := time.Now()
	if s.AssessmentDate.IsZero() {
		s.AssessmentDate = now
	}
	s.UpdatedAt = now
	s.IsActive = true

	query := `
		INSERT INTO governance_scores (project_id, eu_score, nist_score, iso_score, overall_score,
			implemented_controls_count, total_controls_count, assessment_date, updated_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	res, err := c.db.Exec(
		query,
		s.ProjectID,
		s.EUScore,
		s.NISTScore,
		s.ISOScore,
		s.OverallScore,
		s.ImplementedControlsCount,
		s.TotalControlsCount,
		s.AssessmentDate.UnixMilli(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert score snapshot: %w", err)
	}

	s.ID, _ = res.LastInsertId()
	logger.Debug("Score snapshot inserted",
		zap.String("project_id", s.ProjectID),
		zap.Float64("overall", s.OverallScore),
	)
	return nil
}

func (c *Client) GetLatestScore(projectID string) (*models.ScoreSnapshot, error) {
	scores, err := c.queryScores(`WHERE project_id = ? AND is_active = 1 ORDER BY assessment_date DESC, id DESC LIMIT 1`, projectID)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: no score for project %s", ErrNotFound, projectID)
	}
	return &scores[0], nil
}

func (c *Client) GetScoreHistory(projectID string, limit int) ([]models.ScoreSnapshot, error) {
	return c.queryScores(`WHERE project_id = ? AND is_active = 1 ORDER BY assessment_date DESC, id DESC LIMIT ?`, projectID, limit)
}

func (c *Client) queryScores(clause string, args ...interface{}) ([]models.ScoreSnapshot, error) {
	query := `
		SELECT id, project_id, eu_score, nist_score, iso_score, overall_score,
			implemented_controls_count, total_controls_count, assessment_date, updated_at, is_active
		FROM governance_scores ` + clause

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []models.ScoreSnapshot
	for rows.Next() {
		var s models.ScoreSnapshot
		var assessmentDate, updatedAt int64
		var isActive int

		err := rows.Scan(
			&s.ID,
			&s.ProjectID,
			&s.EUScore,
			&s.NISTScore,
			&s.ISOScore,
			&s.OverallScore,
			&s.ImplementedControlsCount,
			&s.TotalControlsCount,
			&assessmentDate,
			&updatedAt,
			&isActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}

		s.AssessmentDate = time.UnixMilli(assessmentDate)
		s.UpdatedAt = time.Unix(updatedAt, 0)
		s.IsActive = isActive == 1
		scores = append(scores, s)
	}

	return scores, rows.Err()
}

// GetGovernanceStatistics aggregates the latest snapshot per project over the
// trailing 30 days.
func (c *Client) GetGovernanceStatistics() (*models.GovernanceStatistics, error) {
	since := time.Now().AddDate(0, 0, -30).UnixMilli()

	query := `
		SELECT COUNT(*),
			COALESCE(AVG(overall_score), 0),
			COALESCE(AVG(eu_score), 0),
			COALESCE(AVG(nist_score), 0),
			COALESCE(AVG(iso_score), 0),
			COALESCE(AVG(CASE WHEN total_controls_count > 0
				THEN CAST(implemented_controls_count AS REAL) / total_controls_count
				ELSE 0 END), 0)
		FROM governance_scores g
		WHERE is_active = 1 AND assessment_date >= ?
			AND assessment_date = (
				SELECT MAX(assessment_date) FROM governance_scores g2
				WHERE g2.project_id = g.project_id AND g2.is_active = 1
			)
	`

	var stats models.GovernanceStatistics
	err := c.db.QueryRow(query, since).Scan(
		&stats.TotalProjectsAssessed,
		&stats.AverageOverallScore,
		&stats.AverageEUScore,
		&stats.AverageNISTScore,
		&stats.AverageISOScore,
		&stats.AverageImplementationRatio,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate governance statistics: %w", err)
	}

	return &stats, nil
}

func (c *Client) GetRiskStatistics(projectID string) (*models.RiskStatistics, error) {
	query := `SELECT severity, COUNT(*) FROM risks WHERE is_active = 1`
	args := []interface{}{}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` GROUP BY severity`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk statistics: %w", err)
	}
	defer rows.Close()

	levels := map[int]string{5: "Critical", 4: "High", 3: "Medium", 2: "Low", 1: "Very Low"}
	stats := &models.RiskStatistics{
		RiskLevels: map[string]int{"Critical": 0, "High": 0, "Medium": 0, "Low": 0, "Very Low": 0},
	}
	for rows.Next() {
		var severity, count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		stats.TotalRisks += count
		if name, ok := levels[severity]; ok {
			stats.RiskLevels[name] = count
		}
	}

	return stats, rows.Err()
}

func (c *Client) InsertQuestion(q *models.Question) error {
	tagsJSON, _ := json.Marshal(q.Tags)
	weightsJSON, _ := json.Marshal(q.Weights)

	query := `INSERT OR REPLACE INTO questions (id, text, tags, weights, ord, is_active) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := c.db.Exec(query, q.ID, q.Text, string(tagsJSON), string(weightsJSON), q.Order, boolToInt(q.IsActive))
	if err != nil {
		return fmt.Errorf("failed to insert question: %w", err)
	}
	return nil
}

// GetQuestionsByIDs resolves catalog entries for the given ids. Unknown ids
// are simply absent from the returned map.
func (c *Client) GetQuestionsByIDs(ids []string) (map[string]models.Question, error) {
	if len(ids) == 0 {
		return map[string]models.Question{}, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`SELECT id, text, tags, weights, ord FROM questions WHERE is_active = 1 AND id IN (%s)`, placeholders)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	result := make(map[string]models.Question)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		result[q.ID] = q
	}

	return result, rows.Err()
}

func (c *Client) ListQuestions() ([]models.Question, error) {
	rows, err := c.db.Query(`SELECT id, text, tags, weights, ord FROM questions WHERE is_active = 1 ORDER BY ord`)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}

	return questions, rows.Err()
}

func scanQuestion(rows *sql.Rows) (models.Question, error) {
	var q models.Question
	var tagsJSON, weightsJSON sql.NullString

	if err := rows.Scan(&q.ID, &q.Text, &tagsJSON, &weightsJSON, &q.Order); err != nil {
		return q, fmt.Errorf("failed to scan question row: %w", err)
	}

	q.IsActive = true
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &q.Tags)
	}
	if weightsJSON.Valid {
		json.Unmarshal([]byte(weightsJSON.String), &q.Weights)
	}
	return q, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
