// Package schema holds the training-time feature contract shared by the form,
// the encoder and the model artifacts: the ordered column list, the categorical
// label maps and the per-field input specification.
package schema

import "fmt"

// Columns is the exact column order the scaler and classifier were fitted on.
// Names (including the "nacionality" spelling) must match training byte for byte.
var Columns = []string{
	"marital_status", "application_mode", "application_order", "course",
	"daytimeevening_attendance", "previous_qualification", "nacionality",
	"mothers_qualification", "fathers_qualification", "mothers_occupation",
	"fathers_occupation", "educational_special_needs", "debtor",
	"tuition_fees_up_to_date", "gender", "scholarship_holder",
	"age_at_enrollment", "international",
	"curricular_units_1st_sem_credited", "curricular_units_1st_sem_enrolled",
	"curricular_units_1st_sem_evaluations", "curricular_units_1st_sem_approved",
	"curricular_units_1st_sem_grade", "curricular_units_1st_sem_without_evaluations",
	"curricular_units_2nd_sem_credited", "curricular_units_2nd_sem_enrolled",
	"curricular_units_2nd_sem_evaluations", "curricular_units_2nd_sem_approved",
	"curricular_units_2nd_sem_grade", "curricular_units_2nd_sem_without_evaluations",
	"course_id",
}

// LabelMap maps a categorical option to the integer used during training.
type LabelMap map[string]int

var (
	YesNo  = LabelMap{"No": 0, "Yes": 1}
	Gender = LabelMap{"Male": 0, "Female": 1}
)

// Kind is the declared input type of a field.
type Kind int

const (
	Integer Kind = iota
	Real
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Real:
		return "real"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field describes one form control.
type Field struct {
	Name    string
	Label   string
	Kind    Kind
	Min     float64
	Max     float64
	Default float64
	Step    float64
	Options []string // categorical only, first entry is the default
	Labels  LabelMap // categorical only
	Column  int      // form column, 0 = left, 1 = right
}

// DefaultValue returns the field default in its natural form representation.
func (f Field) DefaultValue() string {
	switch f.Kind {
	case Categorical:
		return f.Options[0]
	case Real:
		return fmt.Sprintf("%.1f", f.Default)
	default:
		return fmt.Sprintf("%d", int(f.Default))
	}
}

func intField(name, label string, min, max, def float64, column int) Field {
	return Field{Name: name, Label: label, Kind: Integer, Min: min, Max: max, Default: def, Step: 1, Column: column}
}

func realField(name, label string, min, max, def float64, column int) Field {
	return Field{Name: name, Label: label, Kind: Real, Min: min, Max: max, Default: def, Step: 0.01, Column: column}
}

func yesNoField(name, label string, column int) Field {
	return Field{Name: name, Label: label, Kind: Categorical, Options: []string{"No", "Yes"}, Labels: YesNo, Column: column}
}

// FieldSet is an ordered collection of field specs, in form display order.
type FieldSet []Field

// Fields lists every input control in display order.
var Fields = FieldSet{
	intField("marital_status", "Marital Status (encoded)", 1, 5, 1, 0),
	intField("application_mode", "Application Mode", 1, 20, 1, 0),
	intField("application_order", "Application Order", 1, 10, 1, 0),
	intField("course", "Course", 1, 20, 1, 0),
	intField("daytimeevening_attendance", "Daytime/Evening Attendance", 0, 1, 0, 0),
	intField("previous_qualification", "Previous Qualification", 1, 10, 1, 0),
	intField("nacionality", "Nationality (encoded)", 1, 50, 1, 0),
	intField("mothers_qualification", "Mother's Qualification", 1, 10, 1, 0),
	intField("fathers_qualification", "Father's Qualification", 1, 10, 1, 0),
	intField("mothers_occupation", "Mother's Occupation", 1, 10, 1, 0),
	intField("fathers_occupation", "Father's Occupation", 1, 10, 1, 0),
	yesNoField("educational_special_needs", "Educational Special Needs", 0),
	yesNoField("debtor", "Debtor", 0),
	yesNoField("tuition_fees_up_to_date", "Tuition Fees Up To Date", 0),
	{Name: "gender", Label: "Gender", Kind: Categorical, Options: []string{"Male", "Female"}, Labels: Gender, Column: 0},
	yesNoField("scholarship_holder", "Scholarship Holder", 0),

	intField("age_at_enrollment", "Age at Enrollment", 15, 60, 20, 1),
	yesNoField("international", "International", 1),
	intField("curricular_units_1st_sem_credited", "1st Sem Credited", 0, 10, 0, 1),
	intField("curricular_units_1st_sem_enrolled", "1st Sem Enrolled", 0, 10, 5, 1),
	intField("curricular_units_1st_sem_evaluations", "1st Sem Evaluations", 0, 10, 5, 1),
	intField("curricular_units_1st_sem_approved", "1st Sem Approved", 0, 10, 3, 1),
	realField("curricular_units_1st_sem_grade", "1st Sem Grade", 0, 20, 12, 1),
	intField("curricular_units_1st_sem_without_evaluations", "1st Sem Without Evaluations", 0, 10, 0, 1),
	intField("curricular_units_2nd_sem_credited", "2nd Sem Credited", 0, 10, 0, 1),
	intField("curricular_units_2nd_sem_enrolled", "2nd Sem Enrolled", 0, 10, 5, 1),
	intField("curricular_units_2nd_sem_evaluations", "2nd Sem Evaluations", 0, 10, 5, 1),
	intField("curricular_units_2nd_sem_approved", "2nd Sem Approved", 0, 10, 3, 1),
	realField("curricular_units_2nd_sem_grade", "2nd Sem Grade", 0, 20, 12, 1),
	intField("curricular_units_2nd_sem_without_evaluations", "2nd Sem Without Evaluations", 0, 10, 0, 1),
	intField("course_id", "Course ID", 1, 50, 1, 1),
}

// Lookup returns the spec for a field name.
func (fs FieldSet) Lookup(name string) (Field, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// InColumn returns the fields shown in the given form column.
func (fs FieldSet) InColumn(column int) FieldSet {
	out := make(FieldSet, 0, len(fs))
	for _, f := range fs {
		if f.Column == column {
			out = append(out, f)
		}
	}
	return out
}

// Defaults returns the raw form defaults keyed by field name.
func (fs FieldSet) Defaults() map[string]string {
	out := make(map[string]string, len(fs))
	for _, f := range fs {
		out[f.Name] = f.DefaultValue()
	}
	return out
}
