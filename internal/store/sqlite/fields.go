package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

// fieldTypeName maps a FieldValueKind to the text stored in
// operation_fields_v1.field_type / document's reconstructed kind.
func fieldTypeName(k store.FieldValueKind) string {
	switch k {
	case store.ValueBool:
		return "bool"
	case store.ValueInt:
		return "int"
	case store.ValueFloat:
		return "float"
	case store.ValueString:
		return "string"
	case store.ValueBytes:
		return "bytes"
	case store.ValueRelation:
		return "relation"
	case store.ValuePinnedRelation:
		return "pinned_relation"
	case store.ValueRelationList:
		return "relation_list"
	case store.ValuePinnedRelationList:
		return "pinned_relation_list"
	default:
		return "unknown"
	}
}

func parseFieldTypeName(s string) (store.FieldValueKind, error) {
	switch s {
	case "bool":
		return store.ValueBool, nil
	case "int":
		return store.ValueInt, nil
	case "float":
		return store.ValueFloat, nil
	case "string":
		return store.ValueString, nil
	case "bytes":
		return store.ValueBytes, nil
	case "relation":
		return store.ValueRelation, nil
	case "pinned_relation":
		return store.ValuePinnedRelation, nil
	case "relation_list":
		return store.ValueRelationList, nil
	case "pinned_relation_list":
		return store.ValuePinnedRelationList, nil
	default:
		return 0, fmt.Errorf("sqlite: unknown field_type %q", s)
	}
}

// scalarValueText renders the text stored in operation_fields_v1.value for
// one scalar element of v (v itself, not a list).
func scalarValueText(v store.FieldValue) (sql.NullString, error) {
	switch v.Kind {
	case store.ValueBool:
		if v.Bool {
			return sql.NullString{String: "1", Valid: true}, nil
		}
		return sql.NullString{String: "0", Valid: true}, nil
	case store.ValueInt:
		return sql.NullString{String: strconv.FormatInt(v.Int, 10), Valid: true}, nil
	case store.ValueFloat:
		return sql.NullString{String: strconv.FormatFloat(v.Float, 'g', -1, 64), Valid: true}, nil
	case store.ValueString, store.ValueBytes:
		return sql.NullString{String: v.Str, Valid: true}, nil
	case store.ValueRelation:
		return sql.NullString{String: string(v.Rel), Valid: true}, nil
	case store.ValuePinnedRelation:
		return sql.NullString{String: v.Pinned.String(), Valid: true}, nil
	default:
		return sql.NullString{}, fmt.Errorf("sqlite: %v is not a scalar kind", v.Kind)
	}
}

func parseScalarValue(kind store.FieldValueKind, text sql.NullString) (store.FieldValue, error) {
	fv := store.FieldValue{Kind: kind}
	if !text.Valid {
		return fv, nil // empty-list marker row, or null scalar
	}
	switch kind {
	case store.ValueBool:
		fv.Bool = text.String == "1"
	case store.ValueInt:
		n, err := strconv.ParseInt(text.String, 10, 64)
		if err != nil {
			return fv, err
		}
		fv.Int = n
	case store.ValueFloat:
		f, err := strconv.ParseFloat(text.String, 64)
		if err != nil {
			return fv, err
		}
		fv.Float = f
	case store.ValueString, store.ValueBytes:
		fv.Str = text.String
	case store.ValueRelation:
		h, err := wid.ParseHash(text.String)
		if err != nil {
			return fv, err
		}
		fv.Rel = h
	case store.ValuePinnedRelation:
		ids, err := parseDocumentViewId(text.String)
		if err != nil {
			return fv, err
		}
		fv.Pinned = ids
	}
	return fv, nil
}

// parseDocumentViewId splits the concatenated-hash serialized view id back
// into its member operation ids. Each Hash has a fixed hex length, so the
// concatenation is unambiguously splittable.
func parseDocumentViewId(s string) (wid.DocumentViewId, error) {
	const hashLen = 68 // 4 hex chars of type prefix + 64 hex chars of digest
	if len(s)%hashLen != 0 {
		return nil, fmt.Errorf("sqlite: malformed document view id %q", s)
	}
	var ids wid.DocumentViewId
	for i := 0; i < len(s); i += hashLen {
		h, err := wid.ParseHash(s[i : i+hashLen])
		if err != nil {
			return nil, err
		}
		ids = append(ids, h)
	}
	return ids, nil
}

// insertOperationFields writes one row per scalar field, one row per list
// element, and one null-valued row for an empty list (spec.md §3/§6).
func insertOperationFields(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, opID wid.OperationId, fields store.OperationFields) error {
	for name, v := range fields {
		typeName := fieldTypeName(v.Kind)
		switch v.Kind {
		case store.ValueRelationList, store.ValuePinnedRelationList:
			if len(v.List) == 0 {
				if _, err := execer.ExecContext(ctx,
					`INSERT INTO operation_fields_v1 (operation_id, name, field_type, value, list_index) VALUES (?, ?, ?, NULL, 0)`,
					string(opID), name, typeName); err != nil {
					return err
				}
				continue
			}
			elemKind := store.ValueRelation
			if v.Kind == store.ValuePinnedRelationList {
				elemKind = store.ValuePinnedRelation
			}
			for i, elem := range v.List {
				elem.Kind = elemKind
				text, err := scalarValueText(elem)
				if err != nil {
					return err
				}
				if _, err := execer.ExecContext(ctx,
					`INSERT INTO operation_fields_v1 (operation_id, name, field_type, value, list_index) VALUES (?, ?, ?, ?, ?)`,
					string(opID), name, typeName, text, i); err != nil {
					return err
				}
			}
		default:
			text, err := scalarValueText(v)
			if err != nil {
				return err
			}
			if _, err := execer.ExecContext(ctx,
				`INSERT INTO operation_fields_v1 (operation_id, name, field_type, value, list_index) VALUES (?, ?, ?, ?, 0)`,
				string(opID), name, typeName, text); err != nil {
				return err
			}
		}
	}
	return nil
}

// fieldRow is one operation_fields_v1 row, used to reassemble
// OperationFields grouped by name.
type fieldRow struct {
	Name      string
	TypeName  string
	Value     sql.NullString
	ListIndex int
}

// assembleFields groups ordered field rows (ordered by name, list_index) back
// into OperationFields, merging list_index rows into list values.
func assembleFields(rows []fieldRow) (store.OperationFields, error) {
	out := make(store.OperationFields)
	byName := make(map[string][]fieldRow)
	order := make([]string, 0)
	for _, r := range rows {
		if _, ok := byName[r.Name]; !ok {
			order = append(order, r.Name)
		}
		byName[r.Name] = append(byName[r.Name], r)
	}
	for _, name := range order {
		group := byName[name]
		kind, err := parseFieldTypeName(group[0].TypeName)
		if err != nil {
			return nil, err
		}
		if kind == store.ValueRelationList || kind == store.ValuePinnedRelationList {
			elemKind := store.ValueRelation
			if kind == store.ValuePinnedRelationList {
				elemKind = store.ValuePinnedRelation
			}
			fv := store.FieldValue{Kind: kind, List: []store.FieldValue{}}
			for _, r := range group {
				if !r.Value.Valid {
					continue // the empty-list marker row contributes nothing
				}
				elem, err := parseScalarValue(elemKind, r.Value)
				if err != nil {
					return nil, err
				}
				fv.List = append(fv.List, elem)
			}
			out[name] = fv
			continue
		}
		fv, err := parseScalarValue(kind, group[0].Value)
		if err != nil {
			return nil, err
		}
		out[name] = fv
	}
	return out, nil
}
