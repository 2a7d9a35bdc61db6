package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
)

// IndexRow is the common envelope every search-index table shares: rows are
// attached to exactly one version (§3.2) and keyed by
// (resource_type, id, version_id, parameter_name).
type IndexRow struct {
	ResourceType  string
	ID            string
	VersionID     int64
	ParameterName string
}

// StringIndexRow is one row of the string-parameter index table.
type StringIndexRow struct {
	IndexRow
	Value      string
	Normalized string // case/diacritic-normalized value
}

// TokenIndexRow is one row of the token-parameter index table.
type TokenIndexRow struct {
	IndexRow
	System           string
	Code             string
	CodeFold         string // code-case-insensitive
	Display          string
	IdentifierTyping string // optional identifier-typing tuple, serialized
}

// ReferenceKind enumerates §3.2's reference-index `kind` column.
type ReferenceKind string

const (
	ReferenceKindRelative ReferenceKind = "relative"
	ReferenceKindAbsolute ReferenceKind = "absolute"
	ReferenceKindCanonical ReferenceKind = "canonical"
	ReferenceKindFragment ReferenceKind = "fragment"
)

// ReferenceIndexRow is one row of the reference-parameter index table.
type ReferenceIndexRow struct {
	IndexRow
	Kind             ReferenceKind
	TargetType       string
	TargetID         string
	TargetVersionID  *int64
	TargetURL        string
	CanonicalURL     string
	CanonicalVersion string
	Display          string
}

// DateIndexRow is one row of the date-parameter index table; Start/End form
// the inclusive range representing the value's declared precision.
type DateIndexRow struct {
	IndexRow
	StartInstant int64 // unix nanos
	EndInstant   int64
}

// NumberIndexRow is one row of the number-parameter index table.
type NumberIndexRow struct {
	IndexRow
	Value float64
}

// QuantityIndexRow is one row of the quantity-parameter index table.
type QuantityIndexRow struct {
	IndexRow
	Value        float64
	System       string
	Code         string
	CanonicalUnit string
}

// URIIndexRow is one row of the uri-parameter index table.
type URIIndexRow struct {
	IndexRow
	Value string
}

// CompositeIndexRow is one row of the composite-parameter index table; the
// ordered component tuple is stored as structured JSON.
type CompositeIndexRow struct {
	IndexRow
	Components []byte // JSON array, one element per composite component
}

// MembershipIndexRow is one row of the `_in` membership index table.
type MembershipIndexRow struct {
	CollectionType string // CareTeam, Group, or List
	CollectionID   string
	MemberType     string
	MemberID       string
}

// IndexWriter inserts/replaces the per-version search-index rows produced
// by internal/search's Indexer for one resource version.
type IndexWriter struct{}

// NewIndexWriter constructs an IndexWriter. It is stateless; the type exists
// to mirror the Store's method-receiver shape for the index tables.
func NewIndexWriter() *IndexWriter { return &IndexWriter{} }

// DeleteForVersion removes every index row previously attached to
// (resourceType, id, versionID) across all index tables, used before
// re-indexing a version (the teardown half of a reindex) — a version's
// rows are never mutated in place, only replaced wholesale.
func (w *IndexWriter) DeleteForVersion(ctx context.Context, tx pgx.Tx, resourceType, id string, versionID int64) error {
	tables := []string{
		"search_index_string", "search_index_token", "search_index_reference",
		"search_index_date", "search_index_number", "search_index_quantity",
		"search_index_uri", "search_index_composite",
	}
	for _, table := range tables {
		query, args, err := sq.Delete(table).
			Where(sq.Eq{"resource_type": resourceType, "id": id, "version_id": versionID}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return fhirerr.Internal(err, "build delete for %s", table)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fhirerr.Internal(err, "clear %s for %s/%s v%d", table, resourceType, id, versionID)
		}
	}
	return nil
}

// InsertStrings bulk-inserts string index rows inside the caller's
// transaction.
func (w *IndexWriter) InsertStrings(ctx context.Context, tx pgx.Tx, rows []StringIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := sq.Insert("search_index_string").
		Columns("resource_type", "id", "version_id", "parameter_name", "value", "normalized").
		PlaceholderFormat(sq.Dollar)
	for _, r := range rows {
		b = b.Values(r.ResourceType, r.ID, r.VersionID, r.ParameterName, r.Value, r.Normalized)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build string index insert")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fhirerr.Internal(err, "insert string index rows")
	}
	return nil
}

// InsertTokens bulk-inserts token index rows inside the caller's
// transaction.
func (w *IndexWriter) InsertTokens(ctx context.Context, tx pgx.Tx, rows []TokenIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := sq.Insert("search_index_token").
		Columns("resource_type", "id", "version_id", "parameter_name", "system", "code", "code_fold", "display", "identifier_typing").
		PlaceholderFormat(sq.Dollar)
	for _, r := range rows {
		b = b.Values(r.ResourceType, r.ID, r.VersionID, r.ParameterName, r.System, r.Code, r.CodeFold, r.Display, r.IdentifierTyping)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build token index insert")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fhirerr.Internal(err, "insert token index rows")
	}
	return nil
}

// InsertReferences bulk-inserts reference index rows inside the caller's
// transaction.
func (w *IndexWriter) InsertReferences(ctx context.Context, tx pgx.Tx, rows []ReferenceIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := sq.Insert("search_index_reference").
		Columns("resource_type", "id", "version_id", "parameter_name", "kind", "target_type", "target_id",
			"target_version_id", "target_url", "canonical_url", "canonical_version", "display").
		PlaceholderFormat(sq.Dollar)
	for _, r := range rows {
		b = b.Values(r.ResourceType, r.ID, r.VersionID, r.ParameterName, string(r.Kind), r.TargetType, r.TargetID,
			r.TargetVersionID, r.TargetURL, r.CanonicalURL, r.CanonicalVersion, r.Display)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build reference index insert")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fhirerr.Internal(err, "insert reference index rows")
	}
	return nil
}

// InsertDates bulk-inserts date index rows inside the caller's transaction.
func (w *IndexWriter) InsertDates(ctx context.Context, tx pgx.Tx, rows []DateIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := sq.Insert("search_index_date").
		Columns("resource_type", "id", "version_id", "parameter_name", "start_instant", "end_instant").
		PlaceholderFormat(sq.Dollar)
	for _, r := range rows {
		b = b.Values(r.ResourceType, r.ID, r.VersionID, r.ParameterName, r.StartInstant, r.EndInstant)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build date index insert")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fhirerr.Internal(err, "insert date index rows")
	}
	return nil
}

// InsertNumbers bulk-inserts number index rows inside the caller's
// transaction.
func (w *IndexWriter) InsertNumbers(ctx context.Context, tx pgx.Tx, rows []NumberIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := sq.Insert("search_index_number").
		Columns("resource_type", "id", "version_id", "parameter_name", "value").
		PlaceholderFormat(sq.Dollar)
	for _, r := range rows {
		b = b.Values(r.ResourceType, r.ID, r.VersionID, r.ParameterName, r.Value)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build number index insert")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fhirerr.Internal(err, "insert number index rows")
	}
	return nil
}

// InsertQuantities bulk-inserts quantity index rows inside the caller's
// transaction.
func (w *IndexWriter) InsertQuantities(ctx context.Context, tx pgx.Tx, rows []QuantityIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := sq.Insert("search_index_quantity").
		Columns("resource_type", "id", "version_id", "parameter_name", "value", "system", "code", "canonical_unit").
		PlaceholderFormat(sq.Dollar)
	for _, r := range rows {
		b = b.Values(r.ResourceType, r.ID, r.VersionID, r.ParameterName, r.Value, r.System, r.Code, r.CanonicalUnit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build quantity index insert")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fhirerr.Internal(err, "insert quantity index rows")
	}
	return nil
}

// InsertURIs bulk-inserts uri index rows inside the caller's transaction.
func (w *IndexWriter) InsertURIs(ctx context.Context, tx pgx.Tx, rows []URIIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := sq.Insert("search_index_uri").
		Columns("resource_type", "id", "version_id", "parameter_name", "value").
		PlaceholderFormat(sq.Dollar)
	for _, r := range rows {
		b = b.Values(r.ResourceType, r.ID, r.VersionID, r.ParameterName, r.Value)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build uri index insert")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fhirerr.Internal(err, "insert uri index rows")
	}
	return nil
}

// InsertComposites bulk-inserts composite index rows inside the caller's
// transaction.
func (w *IndexWriter) InsertComposites(ctx context.Context, tx pgx.Tx, rows []CompositeIndexRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := sq.Insert("search_index_composite").
		Columns("resource_type", "id", "version_id", "parameter_name", "components").
		PlaceholderFormat(sq.Dollar)
	for _, r := range rows {
		b = b.Values(r.ResourceType, r.ID, r.VersionID, r.ParameterName, r.Components)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build composite index insert")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fhirerr.Internal(err, "insert composite index rows")
	}
	return nil
}

// ReplaceMembership replaces the membership (`_in`) rows for one collection
// (CareTeam/Group/List), since membership is a property of the collection
// resource's current version rather than of the member.
func (w *IndexWriter) ReplaceMembership(ctx context.Context, tx pgx.Tx, collectionType, collectionID string, members []MembershipIndexRow) error {
	del, delArgs, err := sq.Delete("search_index_membership").
		Where(sq.Eq{"collection_type": collectionType, "collection_id": collectionID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build membership delete")
	}
	if _, err := tx.Exec(ctx, del, delArgs...); err != nil {
		return fhirerr.Internal(err, "clear membership rows for %s/%s", collectionType, collectionID)
	}
	if len(members) == 0 {
		return nil
	}
	b := sq.Insert("search_index_membership").
		Columns("collection_type", "collection_id", "member_type", "member_id").
		PlaceholderFormat(sq.Dollar)
	for _, m := range members {
		b = b.Values(m.CollectionType, m.CollectionID, m.MemberType, m.MemberID)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fhirerr.Internal(err, "build membership insert")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fhirerr.Internal(err, "insert membership rows")
	}
	return nil
}
