// Package leadstore is a file-backed lead collection for the admin tooling:
// the whole collection lives in one JSON array on disk, loaded and rewritten
// as a unit. Small data, single process, no database to operate.
package leadstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow-agent/internal/domain"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var ErrUnknownFormat = errors.New("leadstore: unknown export format")

// Store persists leads as a JSON array at a fixed path. All operations take
// the mutex, so a Store is safe for concurrent use within one process; no
// cross-process coordination is attempted.
type Store struct {
	mu   sync.Mutex
	path string
}

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("leadstore: path must not be empty")
	}
	return &Store{path: path}, nil
}

// LeadPatch is a partial update: nil fields are left untouched. ID and
// CreatedAt are never patchable.
type LeadPatch struct {
	Name     *string              `json:"name,omitempty"`
	Email    *string              `json:"email,omitempty"`
	Company  *string              `json:"company,omitempty"`
	Phone    *string              `json:"phone,omitempty"`
	Report   *string              `json:"report,omitempty"`
	FitScore *int                 `json:"fitScore,omitempty"`
	Status   *domain.LeadStatus   `json:"status,omitempty"`
	Priority *domain.LeadPriority `json:"priority,omitempty"`
	Archived *bool                `json:"archived,omitempty"`
}

// SaveLead assigns a fresh id and creation timestamp, appends the record,
// and persists. Caller-supplied id or timestamp values are overwritten.
func (s *Store) SaveLead(lead domain.Lead) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leads := s.load()
	lead.ID = uuid.NewString()
	lead.CreatedAt = time.Now().UTC()
	if lead.Status == "" {
		lead.Status = domain.StatusNew
	}
	leads = append(leads, lead)
	if err := s.persist(leads); err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

func (s *Store) GetAllLeads() []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) GetLead(id string) (domain.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lead := range s.load() {
		if lead.ID == id {
			return lead, true
		}
	}
	return domain.Lead{}, false
}

func (s *Store) GetLeadsByStatus(status domain.LeadStatus) []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]domain.Lead, 0)
	for _, lead := range s.load() {
		if lead.Status == status {
			matched = append(matched, lead)
		}
	}
	return matched
}

func (s *Store) GetLeadsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.load())
}

// UpdateLead merges the patch into the matching record and persists. Returns
// nil when the id is unknown, leaving the collection untouched.
func (s *Store) UpdateLead(id string, patch LeadPatch) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leads := s.load()
	for i := range leads {
		if leads[i].ID != id {
			continue
		}
		applyPatch(&leads[i], patch)
		if err := s.persist(leads); err != nil {
			return nil, err
		}
		updated := leads[i]
		return &updated, nil
	}
	return nil, nil
}

// DeleteLead removes the record by id. Returns false when the id is unknown.
func (s *Store) DeleteLead(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leads := s.load()
	for i := range leads {
		if leads[i].ID == id {
			leads = append(leads[:i], leads[i+1:]...)
			if err := s.persist(leads); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// BulkUpdate applies one patch to every matching id as a single in-memory
// transform followed by one persist. Unknown ids are skipped. Returns the
// number of records touched.
func (s *Store) BulkUpdate(ids []string, patch LeadPatch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := idSet(ids)
	leads := s.load()
	touched := 0
	for i := range leads {
		if !wanted[leads[i].ID] {
			continue
		}
		applyPatch(&leads[i], patch)
		touched++
	}
	if touched == 0 {
		return 0, nil
	}
	if err := s.persist(leads); err != nil {
		return 0, err
	}
	return touched, nil
}

// BulkDelete removes every matching id with one persist. Returns the number
// of records removed.
func (s *Store) BulkDelete(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := idSet(ids)
	leads := s.load()
	kept := leads[:0]
	removed := 0
	for _, lead := range leads {
		if wanted[lead.ID] {
			removed++
			continue
		}
		kept = append(kept, lead)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.persist(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// Export serializes the full collection. CSV uses the admin dashboard's
// fixed French column order and quotes every cell, scores rendering as N/A
// when absent.
func (s *Store) Export(format string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leads := s.load()
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		out, err := json.MarshalIndent(leads, "", "  ")
		if err != nil {
			return "", fmt.Errorf("leadstore: export json: %w", err)
		}
		return string(out), nil
	case FormatCSV:
		return exportCSV(leads), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func exportCSV(leads []domain.Lead) string {
	var b strings.Builder
	writeRow(&b, []string{"Nom", "Email", "Entreprise", "Score", "Statut", "Priorité"})
	for _, lead := range leads {
		score := "N/A"
		if lead.FitScore != nil {
			score = strconv.Itoa(*lead.FitScore)
		}
		writeRow(&b, []string{
			lead.Name,
			lead.Email,
			lead.Company,
			score,
			string(lead.Status),
			string(lead.Priority),
		})
	}
	return b.String()
}

// writeRow quotes every cell unconditionally, doubling embedded quotes.
func writeRow(b *strings.Builder, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(cell, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

func applyPatch(lead *domain.Lead, patch LeadPatch) {
	if patch.Name != nil {
		lead.Name = *patch.Name
	}
	if patch.Email != nil {
		lead.Email = *patch.Email
	}
	if patch.Company != nil {
		lead.Company = *patch.Company
	}
	if patch.Phone != nil {
		lead.Phone = *patch.Phone
	}
	if patch.Report != nil {
		lead.Report = *patch.Report
	}
	if patch.FitScore != nil {
		score := *patch.FitScore
		lead.FitScore = &score
	}
	if patch.Status != nil {
		lead.Status = *patch.Status
	}
	if patch.Priority != nil {
		lead.Priority = *patch.Priority
	}
	if patch.Archived != nil {
		lead.Archived = *patch.Archived
	}
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// load reads the collection, treating a missing or corrupt file as empty.
// Reads must never fail the admin flow; a later persist rewrites the file.
func (s *Store) load() []domain.Lead {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return []domain.Lead{}
	}
	var leads []domain.Lead
	if err := json.Unmarshal(raw, &leads); err != nil {
		return []domain.Lead{}
	}
	return leads
}

// persist writes via a temp file and rename so a crash mid-write cannot
// leave a truncated collection behind.
func (s *Store) persist(leads []domain.Lead) error {
	out, err := json.MarshalIndent(leads, "", "  ")
	if err != nil {
		return fmt.Errorf("leadstore: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("leadstore: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".leads-*.json")
	if err != nil {
		return fmt.Errorf("leadstore: create temp: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("leadstore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("leadstore: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("leadstore: rename: %w", err)
	}
	return nil
}
