package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/task"
	"go.mongodb.org/mongo-driver/bson"
)

// taskDocument is the decoded shape of a document in the tasks collection.
// Writes are built as bson.M so that absent optional fields stay absent.
type taskDocument struct {
	ID                  string        `bson:"_id"`
	Action              string        `bson:"action"`
	Params              bson.RawValue `bson:"params"`
	Status              string        `bson:"status"`
	Result              bson.RawValue `bson:"result"`
	Error               string        `bson:"error"`
	ErrorStack          string        `bson:"errorStack"`
	Logs                []logDocument `bson:"logs"`
	DedupKey            string        `bson:"dedupKey"`
	Active              bool          `bson:"active"`
	CreatedAt           time.Time     `bson:"createdAt"`
	UpdatedAt           time.Time     `bson:"updatedAt"`
	ProcessingStartedAt *time.Time    `bson:"processingStartedAt"`
	CompletedAt         *time.Time    `bson:"completedAt"`
	FailedAt            *time.Time    `bson:"failedAt"`
}

type logDocument struct {
	Timestamp time.Time     `bson:"timestamp"`
	Message   string        `bson:"message"`
	Level     string        `bson:"level"`
	Data      bson.RawValue `bson:"data"`
}

func newTaskDocument(t *task.Task) (bson.M, error) {
	params, err := jsonToBSON(t.Params)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	if params == nil {
		params = bson.D{}
	}
	logs := bson.A{}
	for _, entry := range t.Logs {
		doc, err := newLogDocument(entry)
		if err != nil {
			return nil, err
		}
		logs = append(logs, doc)
	}
	return bson.M{
		"_id":       t.ID.String(),
		"action":    string(t.Action),
		"params":    params,
		"status":    string(task.StatusPending),
		"logs":      logs,
		"dedupKey":  t.DedupKey,
		"active":    true,
		"createdAt": t.CreatedAt,
		"updatedAt": t.UpdatedAt,
	}, nil
}

func newLogDocument(entry task.LogEntry) (bson.M, error) {
	doc := bson.M{
		"timestamp": entry.Timestamp,
		"message":   entry.Message,
		"level":     string(entry.Level),
	}
	data, err := jsonToBSON(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("log data: %w", err)
	}
	if data != nil {
		doc["data"] = data
	}
	return doc, nil
}

func (d *taskDocument) toTask() (*task.Task, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", d.ID, err)
	}
	params, err := bsonToJSON(d.Params)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	result, err := bsonToJSON(d.Result)
	if err != nil {
		return nil, fmt.Errorf("result: %w", err)
	}

	t := &task.Task{
		ID:                  id,
		Action:              task.Action(d.Action),
		Params:              params,
		Status:              task.Status(d.Status),
		Result:              result,
		Error:               d.Error,
		ErrorStack:          d.ErrorStack,
		Logs:                make([]task.LogEntry, 0, len(d.Logs)),
		DedupKey:            d.DedupKey,
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
		ProcessingStartedAt: utc(d.ProcessingStartedAt),
		CompletedAt:         utc(d.CompletedAt),
		FailedAt:            utc(d.FailedAt),
	}
	for _, l := range d.Logs {
		data, err := bsonToJSON(l.Data)
		if err != nil {
			return nil, fmt.Errorf("log data: %w", err)
		}
		t.Logs = append(t.Logs, task.LogEntry{
			Timestamp: l.Timestamp.UTC(),
			Message:   l.Message,
			Level:     task.Level(l.Level),
			Data:      data,
		})
	}
	return t, nil
}

// jsonToBSON stores JSON objects as embedded documents so they stay
// queryable. Any other JSON value is kept as its text.
func jsonToBSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err == nil {
		return doc, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid JSON payload")
	}
	return string(raw), nil
}

func bsonToJSON(v bson.RawValue) (json.RawMessage, error) {
	switch v.Type {
	case 0, bson.TypeNull, bson.TypeUndefined:
		return nil, nil
	case bson.TypeEmbeddedDocument:
		out, err := bson.MarshalExtJSON(v.Document(), false, false)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(out), nil
	case bson.TypeString:
		return json.RawMessage(v.StringValue()), nil
	default:
		return nil, fmt.Errorf("unexpected BSON type %s", v.Type)
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
