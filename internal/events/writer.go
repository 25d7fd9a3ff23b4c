package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"playbooks/internal/domain"
)

// Writer appends audit-feed entries inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type Metadata map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, action domain.ActionType, userID, playbookID, description string, metadata Metadata) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("append %s: transaction required", action)
	}
	if !action.Valid() {
		return 0, fmt.Errorf("unknown action type %q", action)
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if metadata == nil {
		metadata = Metadata{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal event metadata: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(user_id,action_type,playbook_id,description,ts,metadata_json) VALUES (?,?,?,?,?,?)`,
		userID, action, nullable(playbookID), description, domain.FormatTime(w.Now()), string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
