package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var actionTitler = cases.Title(language.English)

// actionLabel renders an action code such as "document.post" as an
// operator-facing label ("Document Post") for the export.
func actionLabel(action string) string {
	return actionTitler.String(strings.ReplaceAll(action, ".", " "))
}

// ExportCSV streams the organization's chain as CSV for operator review.
func (s *Service) ExportCSV(ctx context.Context, orgID int64, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"seq", "at", "actor_id", "action", "description", "entity", "entity_id", "changes", "content_hash", "previous_hash", "sealed"}); err != nil {
		return err
	}
	count := 0
	fromSeq := int64(0)
	for {
		entries, err := s.repo.WalkChain(ctx, orgID, fromSeq, walkPageSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			changes, err := json.Marshal(entry.Changes)
			if err != nil {
				return err
			}
			record := []string{
				strconv.FormatInt(entry.Seq, 10),
				entry.At.UTC().Format(time.RFC3339),
				strconv.FormatInt(entry.ActorID, 10),
				entry.Action,
				actionLabel(entry.Action),
				entry.Entity,
				entry.EntityID,
				string(changes),
				entry.ContentHash,
				entry.PreviousHash,
				strconv.FormatBool(entry.IsImmutable),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
			fromSeq = entry.Seq
			count++
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("audit export complete", "org_id", orgID, "rows", count)
	}
	return nil
}
