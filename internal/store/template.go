package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Landmark is one stored landmark position of a template.
type Landmark struct {
	Index int     `json:"index"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// Template is a recorded pose for the template classifier.
type Template struct {
	ID        string     `json:"id"`
	Gesture   string     `json:"gesture"`
	Tolerance float64    `json:"tolerance"`
	Landmarks []Landmark `json:"landmarks"`
	CreatedAt time.Time  `json:"created_at"`
}

// TemplateRepository provides CRUD operations for templates.
type TemplateRepository struct {
	db *sql.DB
}

// Templates returns the template repository for this store.
func (s *Store) Templates() *TemplateRepository {
	return &TemplateRepository{db: s.db}
}

// Create inserts a template and its landmarks in one transaction.
func (r *TemplateRepository) Create(t *Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO templates (id, gesture, tolerance, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Gesture, t.Tolerance, t.CreatedAt,
	); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO template_landmarks (template_id, landmark_index, x, y, z) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range t.Landmarks {
		if _, err := stmt.Exec(t.ID, l.Index, l.X, l.Y, l.Z); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// List returns every template with its landmarks, oldest first.
func (r *TemplateRepository) List() ([]*Template, error) {
	rows, err := r.db.Query(
		`SELECT id, gesture, tolerance, created_at FROM templates ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}

	var templates []*Template
	for rows.Next() {
		t := &Template{}
		if err := rows.Scan(&t.ID, &t.Gesture, &t.Tolerance, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, t := range templates {
		landmarks, err := r.landmarks(t.ID)
		if err != nil {
			return nil, err
		}
		t.Landmarks = landmarks
	}

	return templates, nil
}

// Delete removes a template and its landmarks.
func (r *TemplateRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *TemplateRepository) landmarks(templateID string) ([]Landmark, error) {
	rows, err := r.db.Query(
		`SELECT landmark_index, x, y, z FROM template_landmarks
		 WHERE template_id = ? ORDER BY landmark_index`,
		templateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var landmarks []Landmark
	for rows.Next() {
		var l Landmark
		if err := rows.Scan(&l.Index, &l.X, &l.Y, &l.Z); err != nil {
			return nil, err
		}
		landmarks = append(landmarks, l)
	}

	return landmarks, rows.Err()
}
