package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ledger-approvals/internal/errors"
)

// auditRepo appends and reads immutable approval audit log entries. The
// table has an update/delete-prevention trigger so Append is the only
// mutation exposed.
type auditRepo struct {
	q querier
}

func (r *auditRepo) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (approval_id, action, performed_by,
		     decision_before, decision_after, metadata)
		VALUES ($1, $2, $3,
		        $4, $5, $6)
		RETURNING id, performed_at
	`

	err := r.q.QueryRow(ctx, query,
		entry.ApprovalID,
		entry.Action,
		entry.PerformedBy,
		entry.DecisionBefore,
		entry.DecisionAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return mapError(err, "failed to append audit entry")
	}
	return nil
}

// ListAuditByApproval returns the trail for an approval, oldest first.
func (r *auditRepo) ListAuditByApproval(ctx context.Context, approvalID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, approval_id, action, performed_by, performed_at,
		       decision_before, decision_after, metadata
		FROM approval_audit_log
		WHERE approval_id = $1
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query, approvalID)
	if err != nil {
		return nil, mapError(err, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func scanAuditRows(rows pgx.Rows) ([]*AuditEntry, error) {
	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read audit log")
	}
	return entries, nil
}

func scanAuditEntry(sc rowScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.ApprovalID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.DecisionBefore,
		&entry.DecisionAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
