package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frankdogbe328/signals-sub000/internal/db"
)

// SQLStore implements Store over database/sql. Queries use $n placeholders,
// which both pgx and modernc sqlite accept.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	now    func() time.Time
}

func NewSQLStore(conn *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: conn, driver: driver, now: time.Now}
}

const examCols = `id,subject,class_id,title,duration_minutes,total_marks,exam_type,active,results_released,semester_released,starts_at,ends_at,created_at`

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO exams (`+examCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET subject=EXCLUDED.subject, class_id=EXCLUDED.class_id,
			title=EXCLUDED.title, duration_minutes=EXCLUDED.duration_minutes,
			total_marks=EXCLUDED.total_marks, exam_type=EXCLUDED.exam_type, active=EXCLUDED.active,
			results_released=EXCLUDED.results_released, semester_released=EXCLUDED.semester_released,
			starts_at=EXCLUDED.starts_at, ends_at=EXCLUDED.ends_at`,
		e.ID, e.Subject, e.ClassID, e.Title, e.DurationMinutes, e.TotalMarks, string(e.Type),
		boolInt(e.Active), nullBool(e.ResultsReleased), boolInt(e.SemesterReleased),
		nullUnix(e.StartsAt), nullUnix(e.EndsAt), e.CreatedAt.Unix())
	return GatewayError("PutExam", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(r rowScanner) (Exam, error) {
	var (
		e                Exam
		typ              string
		active, semester int
		released         sql.NullInt64
		starts, ends     sql.NullInt64
		created          int64
	)
	if err := r.Scan(&e.ID, &e.Subject, &e.ClassID, &e.Title, &e.DurationMinutes, &e.TotalMarks,
		&typ, &active, &released, &semester, &starts, &ends, &created); err != nil {
		return Exam{}, err
	}
	e.Type = ExamType(typ)
	e.Active = active != 0
	e.SemesterReleased = semester != 0
	if released.Valid {
		v := released.Int64 != 0
		e.ResultsReleased = &v
	}
	e.StartsAt = fromNullUnix(starts)
	e.EndsAt = fromNullUnix(ends)
	e.CreatedAt = time.Unix(created, 0)
	return e, nil
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+examCols+` FROM exams WHERE id=$1`, id)
	e, err := scanExam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Exam{}, fmt.Errorf("exam %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Exam{}, GatewayError("GetExam", err)
	}
	return e, nil
}

func (s *SQLStore) ListExamsByClass(ctx context.Context, classID string) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+examCols+` FROM exams WHERE class_id=$1 ORDER BY id`, classID)
	if err != nil {
		return nil, GatewayError("ListExamsByClass", err)
	}
	defer rows.Close()
	out := []Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, GatewayError("ListExamsByClass", err)
		}
		out = append(out, e)
	}
	return out, GatewayError("ListExamsByClass", rows.Err())
}

// SetExamFlags reads, applies and writes back inside one transaction.
func (s *SQLStore) SetExamFlags(ctx context.Context, id string, f FlagUpdate) (Exam, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Exam{}, GatewayError("SetExamFlags", err)
	}
	defer tx.Rollback() //nolint:errcheck

	e, err := scanExam(tx.QueryRowContext(ctx, `SELECT `+examCols+` FROM exams WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Exam{}, fmt.Errorf("exam %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Exam{}, GatewayError("SetExamFlags", err)
	}
	f.Apply(&e)
	if _, err := tx.ExecContext(ctx,
		`UPDATE exams SET active=$1, results_released=$2, semester_released=$3 WHERE id=$4`,
		boolInt(e.Active), nullBool(e.ResultsReleased), boolInt(e.SemesterReleased), id); err != nil {
		return Exam{}, GatewayError("SetExamFlags", err)
	}
	if err := tx.Commit(); err != nil {
		return Exam{}, GatewayError("SetExamFlags", err)
	}
	return e, nil
}

func (s *SQLStore) PutQuestions(ctx context.Context, examID string, qs []Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GatewayError("PutQuestions", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE exam_id=$1`, examID); err != nil {
		return GatewayError("PutQuestions", err)
	}
	for _, q := range qs {
		opts, err := json.Marshal(nonNil(q.Options))
		if err != nil {
			return err
		}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO questions
			(id,exam_id,sequence_order,text,question_type,options_json,correct_answer,marks)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			q.ID, examID, q.SequenceOrder, q.Text, string(q.Type), string(opts), q.CorrectAnswer, q.Marks); err != nil {
			return GatewayError("PutQuestions", err)
		}
	}
	return GatewayError("PutQuestions", tx.Commit())
}

func (s *SQLStore) ListQuestions(ctx context.Context, examID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,exam_id,sequence_order,text,question_type,options_json,correct_answer,marks
		FROM questions WHERE exam_id=$1 ORDER BY sequence_order, id`, examID)
	if err != nil {
		return nil, GatewayError("ListQuestions", err)
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		var (
			q        Question
			typ, raw string
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &q.SequenceOrder, &q.Text, &typ, &raw, &q.CorrectAnswer, &q.Marks); err != nil {
			return nil, GatewayError("ListQuestions", err)
		}
		q.Type = QuestionType(typ)
		if err := json.Unmarshal([]byte(raw), &q.Options); err != nil {
			return nil, fmt.Errorf("question %s options: %w", q.ID, err)
		}
		out = append(out, q)
	}
	return out, GatewayError("ListQuestions", rows.Err())
}

const attemptCols = `id,student_id,exam_id,status,time_remaining_seconds,total_marks,score,percentage,cursor_index,presented_order,started_at,checkpointed_at,submitted_at`

func scanAttempt(r rowScanner) (Attempt, error) {
	var (
		a                Attempt
		status, order    string
		started, checked int64
		submitted        sql.NullInt64
	)
	if err := r.Scan(&a.ID, &a.StudentID, &a.ExamID, &status, &a.TimeRemainingSeconds, &a.TotalMarks,
		&a.Score, &a.Percentage, &a.Cursor, &order, &started, &checked, &submitted); err != nil {
		return Attempt{}, err
	}
	a.Status = AttemptStatus(status)
	if err := json.Unmarshal([]byte(order), &a.PresentedOrder); err != nil {
		return Attempt{}, fmt.Errorf("attempt %s presented order: %w", a.ID, err)
	}
	a.StartedAt = time.Unix(started, 0)
	a.CheckpointedAt = time.Unix(checked, 0)
	a.SubmittedAt = fromNullUnix(submitted)
	return a, nil
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusInProgress
	}
	order, err := json.Marshal(nonNil(a.PresentedOrder))
	if err != nil {
		return Attempt{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts (`+attemptCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.StudentID, a.ExamID, string(a.Status), a.TimeRemainingSeconds, a.TotalMarks,
		a.Score, a.Percentage, a.Cursor, string(order), a.StartedAt.Unix(), a.CheckpointedAt.Unix(),
		nullUnix(a.SubmittedAt))
	if db.IsUniqueViolation(err) {
		return Attempt{}, ErrAlreadyInProgress
	}
	if err != nil {
		return Attempt{}, GatewayError("CreateAttempt", err)
	}
	return a, nil
}

func (s *SQLStore) FindInProgressAttempt(ctx context.Context, studentID, examID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE student_id=$1 AND exam_id=$2 AND status='in_progress'`, studentID, examID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrNotFound
	}
	if err != nil {
		return Attempt{}, GatewayError("FindInProgressAttempt", err)
	}
	return a, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("attempt %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Attempt{}, GatewayError("GetAttempt", err)
	}
	return a, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	add("exam_id", opts.ExamID)
	add("student_id", opts.StudentID)
	add("status", opts.Status)

	q := `SELECT ` + attemptCols + ` FROM attempts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC, id"
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, max(opts.Offset, 0))
	q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, GatewayError("ListAttempts", err)
	}
	defer rows.Close()
	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, GatewayError("ListAttempts", err)
		}
		out = append(out, a)
	}
	return out, GatewayError("ListAttempts", rows.Err())
}

// CheckpointAttempt only touches in-progress rows and never moves the
// cursor backwards.
func (s *SQLStore) CheckpointAttempt(ctx context.Context, id string, remaining, cursor int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET time_remaining_seconds=$1,
			cursor_index=CASE WHEN cursor_index < $2 THEN $2 ELSE cursor_index END,
			checkpointed_at=$3
		WHERE id=$4 AND status='in_progress'`, remaining, cursor, at.Unix(), id)
	if err != nil {
		return GatewayError("CheckpointAttempt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetAttempt(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) FinalizeAttempt(ctx context.Context, id string, f Finalization) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET status=$1, score=$2, total_marks=$3,
			percentage=$4, submitted_at=$5
		WHERE id=$6 AND status='in_progress'`,
		string(f.Status), f.Score, f.TotalMarks, f.Percentage, f.SubmittedAt.Unix(), id)
	if err != nil {
		return false, GatewayError("FinalizeAttempt", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, GatewayError("FinalizeAttempt", err)
	}
	if n == 0 {
		if _, err := s.GetAttempt(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLStore) UpsertResponse(ctx context.Context, r Response) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.now()
	}
	var correct, marks sql.NullInt64
	if r.IsCorrect != nil {
		correct = sql.NullInt64{Int64: int64(boolInt(*r.IsCorrect)), Valid: true}
	}
	if r.MarksAwarded != nil {
		marks = sql.NullInt64{Int64: int64(*r.MarksAwarded), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO responses
		(id,attempt_id,question_id,answer,sequence_order,is_correct,marks_awarded,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET answer=EXCLUDED.answer,
			sequence_order=EXCLUDED.sequence_order, is_correct=EXCLUDED.is_correct,
			marks_awarded=EXCLUDED.marks_awarded, updated_at=EXCLUDED.updated_at`,
		r.ID, r.AttemptID, r.QuestionID, r.Answer, r.SequenceOrder, correct, marks, r.UpdatedAt.Unix())
	return GatewayError("UpsertResponse", err)
}

func (s *SQLStore) ListResponses(ctx context.Context, attemptID string) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,attempt_id,question_id,answer,sequence_order,is_correct,marks_awarded,updated_at
		FROM responses WHERE attempt_id=$1 ORDER BY sequence_order, question_id`, attemptID)
	if err != nil {
		return nil, GatewayError("ListResponses", err)
	}
	defer rows.Close()
	out := []Response{}
	for rows.Next() {
		var (
			r              Response
			correct, marks sql.NullInt64
			updated        int64
		)
		if err := rows.Scan(&r.ID, &r.AttemptID, &r.QuestionID, &r.Answer, &r.SequenceOrder, &correct, &marks, &updated); err != nil {
			return nil, GatewayError("ListResponses", err)
		}
		if correct.Valid {
			v := correct.Int64 != 0
			r.IsCorrect = &v
		}
		if marks.Valid {
			v := int(marks.Int64)
			r.MarksAwarded = &v
		}
		r.UpdatedAt = time.Unix(updated, 0)
		out = append(out, r)
	}
	return out, GatewayError("ListResponses", rows.Err())
}

func (s *SQLStore) UpsertGrade(ctx context.Context, g Grade) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO grades
		(id,student_id,exam_id,score,percentage,letter,scaling_percentage,scaled_score,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (student_id, exam_id) DO UPDATE SET score=EXCLUDED.score,
			percentage=EXCLUDED.percentage, letter=EXCLUDED.letter,
			scaling_percentage=EXCLUDED.scaling_percentage, scaled_score=EXCLUDED.scaled_score,
			updated_at=EXCLUDED.updated_at`,
		g.ID, g.StudentID, g.ExamID, g.Score, g.Percentage, g.Letter, g.ScalingPercentage, g.ScaledScore, g.UpdatedAt.Unix())
	return GatewayError("UpsertGrade", err)
}

const gradeCols = `g.id,g.student_id,g.exam_id,g.score,g.percentage,g.letter,g.scaling_percentage,g.scaled_score,g.updated_at`

func (s *SQLStore) listGrades(ctx context.Context, op, q string, arg string) ([]Grade, error) {
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, GatewayError(op, err)
	}
	defer rows.Close()
	out := []Grade{}
	for rows.Next() {
		var (
			g       Grade
			updated int64
		)
		if err := rows.Scan(&g.ID, &g.StudentID, &g.ExamID, &g.Score, &g.Percentage, &g.Letter,
			&g.ScalingPercentage, &g.ScaledScore, &updated); err != nil {
			return nil, GatewayError(op, err)
		}
		g.UpdatedAt = time.Unix(updated, 0)
		out = append(out, g)
	}
	return out, GatewayError(op, rows.Err())
}

func (s *SQLStore) ListGradesByStudent(ctx context.Context, studentID string) ([]Grade, error) {
	return s.listGrades(ctx, "ListGradesByStudent",
		`SELECT `+gradeCols+` FROM grades g WHERE g.student_id=$1 ORDER BY g.student_id, g.exam_id`, studentID)
}

func (s *SQLStore) ListGradesByClass(ctx context.Context, classID string) ([]Grade, error) {
	return s.listGrades(ctx, "ListGradesByClass",
		`SELECT `+gradeCols+` FROM grades g JOIN exams e ON e.id = g.exam_id
		WHERE e.class_id=$1 ORDER BY g.student_id, g.exam_id`, classID)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBool(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolInt(*b)), Valid: true}
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
