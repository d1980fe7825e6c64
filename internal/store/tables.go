package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tableRecords    = "session_records"
	tableRankings   = "ranking_entries"
	tableActivities = "learning_activities"
)

// tables describes the schema the migrator converges the database to.
// Times are stored as Unix milliseconds.
func tables() []*schema.Table {
	records := schema.NewTable(tableRecords).
		AddPrimary(&schema.Column{Name: "id", Type: field.TypeInt, Increment: true}).
		AddColumn(&schema.Column{Name: "student_id", Type: field.TypeString}).
		AddColumn(&schema.Column{Name: "chapter_id", Type: field.TypeString}).
		AddColumn(&schema.Column{Name: "version", Type: field.TypeInt64}).
		AddColumn(&schema.Column{Name: "data", Type: field.TypeString, Size: 1 << 24}).
		AddColumn(&schema.Column{Name: "created_at", Type: field.TypeInt64}).
		AddColumn(&schema.Column{Name: "updated_at", Type: field.TypeInt64})
	records.AddIndex("sessionrecord_student_id_chapter_id", true, []string{"student_id", "chapter_id"})

	rankings := schema.NewTable(tableRankings).
		AddPrimary(&schema.Column{Name: "user_id", Type: field.TypeString}).
		AddColumn(&schema.Column{Name: "points", Type: field.TypeFloat64}).
		AddColumn(&schema.Column{Name: "total_marks", Type: field.TypeFloat64}).
		AddColumn(&schema.Column{Name: "quiz_time_hours", Type: field.TypeFloat64}).
		AddColumn(&schema.Column{Name: "learning_time_hours", Type: field.TypeFloat64}).
		AddColumn(&schema.Column{Name: "rank", Type: field.TypeInt}).
		AddColumn(&schema.Column{Name: "run_id", Type: field.TypeString}).
		AddColumn(&schema.Column{Name: "computed_at", Type: field.TypeInt64})
	rankings.AddIndex("rankingentry_rank", false, []string{"rank"})

	activities := schema.NewTable(tableActivities).
		AddPrimary(&schema.Column{Name: "id", Type: field.TypeInt, Increment: true}).
		AddColumn(&schema.Column{Name: "user_id", Type: field.TypeString}).
		AddColumn(&schema.Column{Name: "activity_type", Type: field.TypeString}).
		AddColumn(&schema.Column{Name: "started_at", Type: field.TypeInt64}).
		AddColumn(&schema.Column{Name: "ended_at", Type: field.TypeInt64, Nullable: true}).
		AddColumn(&schema.Column{Name: "duration_minutes", Type: field.TypeFloat64})
	activities.AddIndex("learningactivity_user_id_activity_type", false, []string{"user_id", "activity_type"})

	return []*schema.Table{records, rankings, activities}
}
