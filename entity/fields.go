package entity

// Kind is the semantic type of a field, used to pick the operator catalog
// that applies to it.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Field names form a fixed, versioned vocabulary. Condition leaves may only
// reference names listed here; anything else is a configuration error.
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldLocation     = "location"
	FieldNotes        = "notes"
	FieldColor        = "color"
	FieldStatus       = "status"
	FieldCalendarID   = "calendar_id"
	FieldCalendarName = "calendar_name"
	FieldAllDay       = "all_day"
	FieldDuration     = "duration_minutes"
)

// VocabularyVersion identifies the field vocabulary above. Bump when fields
// are added so stored rules can be checked against the vocabulary they were
// written for.
const VocabularyVersion = 1

var fieldKinds = map[string]Kind{
	FieldTitle:        KindString,
	FieldDescription:  KindString,
	FieldLocation:     KindString,
	FieldNotes:        KindString,
	FieldColor:        KindString,
	FieldStatus:       KindString,
	FieldCalendarID:   KindString,
	FieldCalendarName: KindString,
	FieldAllDay:       KindBool,
	FieldDuration:     KindNumber,
}

// FieldKind reports the semantic kind of a vocabulary field.
func FieldKind(name string) (Kind, bool) {
	k, ok := fieldKinds[name]
	return k, ok
}

// FieldNames returns the vocabulary in no particular order.
func FieldNames() []string {
	names := make([]string, 0, len(fieldKinds))
	for name := range fieldKinds {
		names = append(names, name)
	}
	return names
}
