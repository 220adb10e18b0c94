package collections

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	dbtypes "github.com/angelmondragon/eduflow-sync/pkg/db/types"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
)

const (
	FieldID             = "id"
	FieldOrganizationID = "organizationId"
	FieldRole           = "role"

	RoleStudent = "STUDENT"
	RoleTeacher = "TEACHER"

	remoteUsers = "users"
)

// Definition describes how a local collection maps onto the remote store and
// what a valid document looks like.
type Definition struct {
	Name   enums.Collection
	Remote string
	// Role is injected on write and used to route pulled user documents.
	Role   string
	schema func() any
}

// Columns are the indexed values copied out of a document for local filtering.
type Columns struct {
	FirstName *string
	LastName  *string
	Email     *string
	Name      *string
	Status    *string
}

// PullSource is one remote query of the pull phase and the local collections
// its documents may land in.
type PullSource struct {
	Remote  string
	Targets []enums.Collection
}

var validate = newValidator()

var catalog = map[enums.Collection]Definition{
	enums.CollectionStudents:   {Name: enums.CollectionStudents, Remote: remoteUsers, Role: RoleStudent, schema: func() any { return &studentSchema{} }},
	enums.CollectionTeachers:   {Name: enums.CollectionTeachers, Remote: remoteUsers, Role: RoleTeacher, schema: func() any { return &teacherSchema{} }},
	enums.CollectionGroups:     {Name: enums.CollectionGroups, Remote: "groups", schema: func() any { return &groupSchema{} }},
	enums.CollectionCourses:    {Name: enums.CollectionCourses, Remote: "courses", schema: func() any { return &courseSchema{} }},
	enums.CollectionSchedule:   {Name: enums.CollectionSchedule, Remote: "schedule", schema: func() any { return &scheduleSchema{} }},
	enums.CollectionAttendance: {Name: enums.CollectionAttendance, Remote: "attendance", schema: func() any { return &attendanceSchema{} }},
	enums.CollectionGrades:     {Name: enums.CollectionGrades, Remote: "grades", schema: func() any { return &gradeSchema{} }},
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Lookup returns the definition of a known collection.
func Lookup(c enums.Collection) (Definition, bool) {
	def, ok := catalog[c]
	return def, ok
}

// MustLookup panics for unknown collections; callers pass enum constants.
func MustLookup(c enums.Collection) Definition {
	def, ok := Lookup(c)
	if !ok {
		panic(fmt.Sprintf("collections: unknown collection %q", c))
	}
	return def
}

// All returns every definition in declaration order.
func All() []Definition {
	out := make([]Definition, 0, len(catalog))
	for _, c := range enums.Collections() {
		out = append(out, catalog[c])
	}
	return out
}

// PullSources groups local collections by the remote collection they are
// refreshed from, keeping declaration order.
func PullSources() []PullSource {
	var sources []PullSource
	index := map[string]int{}
	for _, def := range All() {
		i, ok := index[def.Remote]
		if !ok {
			index[def.Remote] = len(sources)
			sources = append(sources, PullSource{Remote: def.Remote})
			i = len(sources) - 1
		}
		sources[i].Targets = append(sources[i].Targets, def.Name)
	}
	return sources
}

// SourceFor returns the pull source for a remote collection name.
func SourceFor(remote string) (PullSource, bool) {
	for _, source := range PullSources() {
		if source.Remote == remote {
			return source, true
		}
	}
	return PullSource{}, false
}

// Route picks the local collection for a document pulled from source. Role
// scoped sources route by the document role; documents with other roles are
// dropped.
func Route(source PullSource, doc map[string]any) (enums.Collection, bool) {
	for _, target := range source.Targets {
		def := catalog[target]
		if def.Role == "" {
			return target, true
		}
		if role, _ := doc[FieldRole].(string); strings.EqualFold(role, def.Role) {
			return target, true
		}
	}
	return "", false
}

// Prepare returns a copy of doc with the id, tenant and role fields forced.
func (d Definition) Prepare(orgID, id string, doc map[string]any) dbtypes.JSONDocument {
	out := dbtypes.JSONDocument(doc).Clone()
	out[FieldID] = id
	out[FieldOrganizationID] = orgID
	if d.Role != "" {
		out[FieldRole] = d.Role
	}
	return out
}

// Validate checks doc against the collection contract.
func (d Definition) Validate(doc map[string]any) error {
	if d.schema == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "document is not valid JSON")
	}
	target := d.schema()
	if err := json.Unmarshal(raw, target); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "document does not match collection shape").
			WithDetails(map[string]any{"collection": d.Name, "error": err.Error()})
	}
	if err := validate.Struct(target); err != nil {
		return formatValidationErrors(d.Name, err)
	}
	return nil
}

// Columns extracts the indexed columns of doc.
func (d Definition) Columns(doc map[string]any) Columns {
	return Columns{
		FirstName: stringField(doc, "firstName"),
		LastName:  stringField(doc, "lastName"),
		Email:     stringField(doc, "email"),
		Name:      stringField(doc, "name"),
		Status:    stringField(doc, "status"),
	}
}

func stringField(doc map[string]any, key string) *string {
	v, ok := doc[key].(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}

func formatValidationErrors(collection enums.Collection, err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid %s document", collection)).WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}
