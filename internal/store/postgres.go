package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "aircargo/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies *.sql files in lexical order. Dev helper; statements
// must be idempotent (CREATE TABLE IF NOT EXISTS etc).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    var names []string
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
            names = append(names, e.Name())
        }
    }
    sort.Strings(names)
    for _, name := range names {
        b, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", name, err)
        }
    }
    return nil
}

func (p *Postgres) UpsertAirports(ctx context.Context, airports []model.Airport) (int, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return 0, err }
    defer func(){ _ = tx.Rollback() }()
    for _, a := range airports {
        _, err := tx.ExecContext(ctx, `INSERT INTO airports (id, name, continent, tz_offset_min, lat, lng, capacity_max, occupied, hub)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
            ON CONFLICT (id) DO UPDATE SET name=$2, continent=$3, tz_offset_min=$4, lat=$5, lng=$6, capacity_max=$7, occupied=$8, hub=$9`,
            a.ID, nullIfEmpty(a.Name), nullIfEmpty(a.Continent), a.TZOffsetMin, a.Lat, a.Lng, a.CapacityMax, a.Occupied, a.Hub)
        if err != nil { return 0, err }
    }
    if err := tx.Commit(); err != nil { return 0, err }
    return len(airports), nil
}

func (p *Postgres) ListAirports(ctx context.Context) ([]model.Airport, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, COALESCE(name,''), COALESCE(continent,''), tz_offset_min, lat, lng, capacity_max, occupied, hub FROM airports ORDER BY id`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Airport{}
    for rows.Next() {
        var a model.Airport
        if err := rows.Scan(&a.ID, &a.Name, &a.Continent, &a.TZOffsetMin, &a.Lat, &a.Lng, &a.CapacityMax, &a.Occupied, &a.Hub); err != nil { return nil, err }
        out = append(out, a)
    }
    return out, rows.Err()
}

func (p *Postgres) UpsertFlightTemplates(ctx context.Context, templates []model.FlightTemplate) (int, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return 0, err }
    defer func(){ _ = tx.Rollback() }()
    for _, t := range templates {
        id := t.ID
        if id == "" { id = fmt.Sprintf("%s-%s-%s", t.Origin, t.Destination, t.DepLocal) }
        _, err := tx.ExecContext(ctx, `INSERT INTO flight_templates (id, origin, destination, dep_local, arr_local, capacity_max)
            VALUES ($1,$2,$3,$4,$5,$6)
            ON CONFLICT (id) DO UPDATE SET origin=$2, destination=$3, dep_local=$4, arr_local=$5, capacity_max=$6`,
            id, t.Origin, t.Destination, t.DepLocal, t.ArrLocal, t.CapacityMax)
        if err != nil { return 0, err }
    }
    if err := tx.Commit(); err != nil { return 0, err }
    return len(templates), nil
}

func (p *Postgres) ListFlightTemplates(ctx context.Context) ([]model.FlightTemplate, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, origin, destination, dep_local, arr_local, capacity_max FROM flight_templates ORDER BY id`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.FlightTemplate{}
    for rows.Next() {
        var t model.FlightTemplate
        if err := rows.Scan(&t.ID, &t.Origin, &t.Destination, &t.DepLocal, &t.ArrLocal, &t.CapacityMax); err != nil { return nil, err }
        out = append(out, t)
    }
    return out, rows.Err()
}

func (p *Postgres) CreateShipments(ctx context.Context, shipments []model.Shipment) (string, int, error) {
    importID := fmt.Sprintf("imp_%d", time.Now().UnixNano())
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return "", 0, err }
    defer func(){ _ = tx.Rollback() }()
    created := 0
    for _, s := range shipments {
        if s.ID == "" { s.ID = uuid.New().String() }
        if s.Status == "" { s.Status = model.StatusPending }
        origins, _ := json.Marshal(s.Origins)
        _, err := tx.ExecContext(ctx, `INSERT INTO shipments (id, origins, destination, quantity, ingest, deadline, status)
            VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`,
            s.ID, origins, s.Destination, s.Quantity, s.Ingest, s.Deadline, s.Status)
        if err != nil { return "", 0, err }
        created++
    }
    if err := tx.Commit(); err != nil { return "", 0, err }
    return importID, created, nil
}

func (p *Postgres) ListShipments(ctx context.Context, status, cursor string, limit int) ([]model.Shipment, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id, origins, destination, quantity, ingest, deadline, status FROM shipments`
    args := []any{}
    idx := 1
    var conds []string
    if status != "" { conds = append(conds, fmt.Sprintf("status=$%d", idx)); args = append(args, status); idx++ }
    if cursor != "" { conds = append(conds, fmt.Sprintf("id > $%d", idx)); args = append(args, cursor); idx++ }
    if len(conds) > 0 { q += " WHERE " + strings.Join(conds, " AND ") }
    q += fmt.Sprintf(" ORDER BY id LIMIT $%d", idx)
    args = append(args, limit)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Shipment{}
    var last string
    for rows.Next() {
        s, err := scanShipment(rows)
        if err != nil { return nil, "", err }
        out = append(out, s)
        last = s.ID
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    for i := range out {
        if err := p.loadParts(ctx, &out[i]); err != nil { return nil, "", err }
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) GetShipment(ctx context.Context, id string) (model.Shipment, error) {
    row := p.db.QueryRowContext(ctx, `SELECT id, origins, destination, quantity, ingest, deadline, status FROM shipments WHERE id=$1`, id)
    s, err := scanShipment(row)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Shipment{}, ErrNotFound }
        return model.Shipment{}, err
    }
    if err := p.loadParts(ctx, &s); err != nil { return model.Shipment{}, err }
    return s, nil
}

func (p *Postgres) ShipmentsInWindow(ctx context.Context, from, to time.Time) ([]model.Shipment, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, origins, destination, quantity, ingest, deadline, status FROM shipments
        WHERE status=$1 AND ingest >= $2 AND ingest < $3 ORDER BY deadline, id`, model.StatusPending, from, to)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Shipment{}
    for rows.Next() {
        s, err := scanShipment(rows)
        if err != nil { return nil, err }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) EarliestIngest(ctx context.Context) (time.Time, bool, error) {
    var t sql.NullTime
    if err := p.db.QueryRowContext(ctx, `SELECT MIN(ingest) FROM shipments WHERE status=$1`, model.StatusPending).Scan(&t); err != nil {
        return time.Time{}, false, err
    }
    if !t.Valid { return time.Time{}, false, nil }
    return t.Time.UTC(), true, nil
}

func (p *Postgres) SaveAssignments(ctx context.Context, shipmentID string, parts []model.AssignedPart) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    var exists string
    if err := tx.QueryRowContext(ctx, `SELECT id FROM shipments WHERE id=$1`, shipmentID).Scan(&exists); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
        return err
    }
    if _, err := tx.ExecContext(ctx, `DELETE FROM shipment_parts WHERE shipment_id=$1`, shipmentID); err != nil { return err }
    for _, pt := range parts {
        if pt.ID == "" { pt.ID = uuid.New().String() }
        legs, _ := json.Marshal(pt.Legs)
        _, err := tx.ExecContext(ctx, `INSERT INTO shipment_parts (id, shipment_id, quantity, legs, origin, arrival, delivered)
            VALUES ($1,$2,$3,$4,$5,$6,$7)`, pt.ID, shipmentID, pt.Quantity, legs, pt.Origin, pt.Arrival, pt.Delivered)
        if err != nil { return err }
    }
    if len(parts) > 0 {
        if _, err := tx.ExecContext(ctx, `UPDATE shipments SET status=$1 WHERE id=$2 AND status <> $3`, model.StatusPlanned, shipmentID, model.StatusDelivered); err != nil { return err }
    }
    return tx.Commit()
}

func (p *Postgres) UpdateShipmentStatus(ctx context.Context, id, status string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE shipments SET status=$1 WHERE id=$2`, status, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) MarkPartDelivered(ctx context.Context, partID string) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    var shipmentID string
    if err := tx.QueryRowContext(ctx, `UPDATE shipment_parts SET delivered=true WHERE id=$1 RETURNING shipment_id`, partID).Scan(&shipmentID); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
        return err
    }
    // shipment is delivered once its full quantity is assigned and every part landed
    _, err = tx.ExecContext(ctx, `UPDATE shipments s SET status=$1 WHERE s.id=$2
        AND NOT EXISTS (SELECT 1 FROM shipment_parts WHERE shipment_id=$2 AND delivered=false)
        AND s.quantity = (SELECT COALESCE(SUM(quantity),0) FROM shipment_parts WHERE shipment_id=$2)`,
        model.StatusDelivered, shipmentID)
    if err != nil { return err }
    return tx.Commit()
}

func (p *Postgres) SaveSolution(ctx context.Context, sol model.Solution) error {
    if sol.ID == "" { sol.ID = uuid.New().String() }
    payload, err := json.Marshal(sol)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO solutions (id, window_start, window_end, completed, payload)
        VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO UPDATE SET payload=$5, completed=$4`,
        sol.ID, sol.WindowStart, sol.WindowEnd, sol.Completed, payload)
    return err
}

func (p *Postgres) GetSolution(ctx context.Context, id string) (model.Solution, error) {
    var payload []byte
    if err := p.db.QueryRowContext(ctx, `SELECT payload FROM solutions WHERE id=$1`, id).Scan(&payload); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Solution{}, ErrNotFound }
        return model.Solution{}, err
    }
    var sol model.Solution
    if err := json.Unmarshal(payload, &sol); err != nil { return model.Solution{}, err }
    return sol, nil
}

func (p *Postgres) ListSolutions(ctx context.Context, cursor string, limit int) ([]model.Solution, string, error) {
    if limit <= 0 || limit > 500 { limit = 50 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT payload FROM solutions WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT payload FROM solutions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Solution{}
    var last string
    for rows.Next() {
        var payload []byte
        if err := rows.Scan(&payload); err != nil { return nil, "", err }
        var sol model.Solution
        if err := json.Unmarshal(payload, &sol); err != nil { return nil, "", err }
        out = append(out, sol)
        last = sol.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, url, secret, events FROM subscriptions WHERE events @> $1::jsonb`, fmt.Sprintf("[%q]", eventType))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id, url, secret, events FROM subscriptions WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id, url, secret, events FROM subscriptions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    _, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    return err
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
            id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    if err != nil { return err }
    // move to DLQ
    _, err = p.db.ExecContext(ctx, `INSERT INTO webhook_dlq (id, delivery_id, event_type, url, secret, payload, attempts, last_error)
        SELECT gen_random_uuid(), id, event_type, url, secret, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
    return err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanShipment(row rowScanner) (model.Shipment, error) {
    var s model.Shipment
    var origins []byte
    if err := row.Scan(&s.ID, &origins, &s.Destination, &s.Quantity, &s.Ingest, &s.Deadline, &s.Status); err != nil {
        return model.Shipment{}, err
    }
    _ = json.Unmarshal(origins, &s.Origins)
    s.Ingest = s.Ingest.UTC()
    s.Deadline = s.Deadline.UTC()
    return s, nil
}

func (p *Postgres) loadParts(ctx context.Context, s *model.Shipment) error {
    rows, err := p.db.QueryContext(ctx, `SELECT id, quantity, legs, origin, arrival, delivered FROM shipment_parts WHERE shipment_id=$1 ORDER BY id`, s.ID)
    if err != nil { return err }
    defer rows.Close()
    for rows.Next() {
        var pt model.AssignedPart
        var legs []byte
        if err := rows.Scan(&pt.ID, &pt.Quantity, &legs, &pt.Origin, &pt.Arrival, &pt.Delivered); err != nil { return err }
        _ = json.Unmarshal(legs, &pt.Legs)
        pt.ShipmentID = s.ID
        pt.Arrival = pt.Arrival.UTC()
        s.Parts = append(s.Parts, pt)
    }
    return rows.Err()
}

func computeDedupKey(payload []byte) string {
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
