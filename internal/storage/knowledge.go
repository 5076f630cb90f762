package storage

import (
	"database/sql"
	"time"
)

// --- Knowledge base ---

func (s *Store) SaveKnowledgeDoc(d KnowledgeDoc) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO knowledge_docs (id, merchant_id, customer_id, doc_type, name, content, source, certified, certified_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.MerchantID, d.CustomerID, d.DocType, d.Name, d.Content, d.Source,
		boolInt(d.Certified), formatNullTime(d.CertifiedAt), formatTime(d.CreatedAt),
	)
	return err
}

// ListKnowledgeDocs returns a merchant's documents, newest first.
func (s *Store) ListKnowledgeDocs(merchantID string) ([]KnowledgeDoc, error) {
	rows, err := s.db.Query(`
		SELECT id, merchant_id, customer_id, doc_type, name, content, source, certified, certified_at, created_at
		FROM knowledge_docs WHERE merchant_id = ? ORDER BY created_at DESC, id ASC`, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []KnowledgeDoc{}
	for rows.Next() {
		var d KnowledgeDoc
		var certified int
		var certifiedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&d.ID, &d.MerchantID, &d.CustomerID, &d.DocType, &d.Name, &d.Content, &d.Source,
			&certified, &certifiedAt, &createdAt); err != nil {
			return nil, err
		}
		d.Certified = certified != 0
		if d.CertifiedAt, err = parseNullTime("certified_at", certifiedAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) DeleteKnowledgeDoc(id string) error {
	return expectOne(s.db.Exec(`DELETE FROM knowledge_docs WHERE id = ?`, id))
}

// --- Captures ---

func (s *Store) SaveCapture(c Capture) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.FieldsJSON == "" {
		c.FieldsJSON = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO captures (id, merchant_id, kind, agent_type, fields_json, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MerchantID, c.Kind, c.AgentType, c.FieldsJSON, c.Raw, formatTime(c.CreatedAt),
	)
	return err
}

// ListCaptures returns up to limit captures for a merchant, newest first.
func (s *Store) ListCaptures(merchantID string, limit int) ([]Capture, error) {
	rows, err := s.db.Query(`
		SELECT id, merchant_id, kind, agent_type, fields_json, raw, created_at
		FROM captures WHERE merchant_id = ? ORDER BY created_at DESC, id ASC LIMIT ?`, merchantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Capture{}
	for rows.Next() {
		var c Capture
		var createdAt string
		if err := rows.Scan(&c.ID, &c.MerchantID, &c.Kind, &c.AgentType, &c.FieldsJSON, &c.Raw, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Contact form ---

func (s *Store) SaveContactSubmission(c ContactSubmission) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO contact_submissions (id, name, email, company, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Company, c.Message, formatTime(c.CreatedAt))
	return err
}

// CountContactSubmissions returns how many contact form entries are stored.
func (s *Store) CountContactSubmissions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM contact_submissions`).Scan(&n)
	return n, err
}
