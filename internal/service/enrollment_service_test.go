package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

func TestRequestEnrollmentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)
	s.world.addStudent("stu-new", "New Student")

	first, err := s.enroll.RequestEnrollment(ctx, "stu-new", beanCourse)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentPending, first.Status)

	second, err := s.enroll.RequestEnrollment(ctx, "stu-new", beanCourse)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRequestEnrollmentRequiresPublishedCourse(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)
	s.world.addCourse("course-draft", "Latte Art", models.CourseDraft)

	_, err := s.enroll.RequestEnrollment(ctx, barista, "course-draft")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = s.enroll.RequestEnrollment(ctx, barista, "course-missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestActivateEnrollmentUnlocksContent(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)
	s.world.addStudent("stu-new", "New Student")
	_, err := s.enroll.RequestEnrollment(ctx, "stu-new", beanCourse)
	require.NoError(t, err)

	view, err := s.courses.StudentCourse(ctx, "stu-new", beanCourse)
	require.NoError(t, err)
	for _, m := range view.Modules {
		assert.True(t, m.Locked)
		assert.Empty(t, m.Content)
	}

	activated, err := s.enroll.ActivateEnrollment(ctx, adminMeta, ActivateEnrollmentRequest{StudentID: "stu-new", CourseID: beanCourse})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentActive, activated.Status)
	assert.NotNil(t, activated.ActivatedAt)
	require.Len(t, s.world.audits, 1)
	assert.Equal(t, models.AuditActionEnrollActivate, s.world.audits[0].Action)

	again, err := s.enroll.ActivateEnrollment(ctx, adminMeta, ActivateEnrollmentRequest{StudentID: "stu-new", CourseID: beanCourse})
	require.NoError(t, err)
	assert.Equal(t, activated.ActivatedAt, again.ActivatedAt)
	assert.Len(t, s.world.audits, 1, "activating twice is a no-op")

	_, err = s.quiz.Submit(ctx, "stu-new", beanModule1, answers(true))
	assert.NoError(t, err)
}

func TestActivateEnrollmentErrors(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)

	_, err := s.enroll.ActivateEnrollment(ctx, adminMeta, ActivateEnrollmentRequest{StudentID: "nobody", CourseID: beanCourse})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = s.enroll.ActivateEnrollment(ctx, adminMeta, ActivateEnrollmentRequest{CourseID: beanCourse})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestListForCourseFiltersStatus(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)
	s.world.enroll("stu-b", beanCourse, models.EnrollmentPending)

	all, err := s.enroll.ListForCourse(ctx, beanCourse, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := s.enroll.ListForCourse(ctx, beanCourse, models.EnrollmentPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "stu-b", pending[0].StudentID)

	_, err = s.enroll.ListForCourse(ctx, beanCourse, "withdrawn")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	mine, err := s.enroll.ListForStudent(ctx, barista)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Bean to Brew", mine[0].CourseTitle)
}
