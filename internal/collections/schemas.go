package collections

// Document shape contracts. Only the fields the agent relies on are declared;
// everything else in a document passes through untouched.

type studentSchema struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	Status    string `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE SUSPENDED GRADUATED"`
}

type teacherSchema struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	Status    string `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
}

type groupSchema struct {
	Name string `json:"name" validate:"required"`
}

type courseSchema struct {
	Name string `json:"name" validate:"required"`
}

type scheduleSchema struct {
	GroupID   string `json:"groupId" validate:"required"`
	CourseID  string `json:"courseId" validate:"required"`
	DayOfWeek *int   `json:"dayOfWeek" validate:"required,min=0,max=6"`
}

type attendanceSchema struct {
	StudentID string `json:"studentId" validate:"required"`
	Date      string `json:"date" validate:"required"`
	Status    string `json:"status" validate:"omitempty,oneof=PRESENT ABSENT LATE EXCUSED"`
}

type gradeSchema struct {
	StudentID string   `json:"studentId" validate:"required"`
	CourseID  string   `json:"courseId" validate:"required"`
	Value     *float64 `json:"value" validate:"required,min=0,max=100"`
}
