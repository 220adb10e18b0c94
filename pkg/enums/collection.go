package enums

import "fmt"

// Collection names a locally cached entity table. The value doubles as the
// sqlite table name.
type Collection string

const (
	CollectionStudents   Collection = "students"
	CollectionTeachers   Collection = "teachers"
	CollectionGroups     Collection = "groups"
	CollectionCourses    Collection = "courses"
	CollectionSchedule   Collection = "schedule"
	CollectionAttendance Collection = "attendance"
	CollectionGrades     Collection = "grades"
)

var validCollections = []Collection{
	CollectionStudents,
	CollectionTeachers,
	CollectionGroups,
	CollectionCourses,
	CollectionSchedule,
	CollectionAttendance,
	CollectionGrades,
}

// Collections returns every known collection in declaration order.
func Collections() []Collection {
	out := make([]Collection, len(validCollections))
	copy(out, validCollections)
	return out
}

// IsValid reports whether the value is a known collection.
func (c Collection) IsValid() bool {
	for _, candidate := range validCollections {
		if candidate == c {
			return true
		}
	}
	return false
}

func (c Collection) String() string {
	return string(c)
}

// ParseCollection converts raw input into a Collection.
func ParseCollection(value string) (Collection, error) {
	for _, candidate := range validCollections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid collection %q", value)
}
