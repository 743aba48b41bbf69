package service

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/storage"
)

type expiredSigner struct{ *storage.SignedURLSigner }

func (expiredSigner) Verify(string) (storage.DownloadGrant, error) {
	return storage.DownloadGrant{}, storage.ErrTokenExpired
}

func newReportFixture(t *testing.T, signer reportSigner) (*lmsServices, *ReportService) {
	t.Helper()
	s := beanToBrew(t, 0)
	s.world.addStudent("stu-ben", "Ben Brewer")
	s.world.enroll("stu-ben", beanCourse, models.EnrollmentActive)
	s.world.addStudent("stu-cy", "Cy Pending")
	s.world.enroll("stu-cy", beanCourse, models.EnrollmentPending)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	if signer == nil {
		signer = storage.NewSignedURLSigner("report-secret", time.Hour)
	}
	svc := NewReportService(ReportServiceDeps{
		Courses:     fakeCourses{s.world},
		Modules:     fakeModules{s.world},
		Enrollments: fakeEnrollments{s.world},
		Users:       fakeUsers{s.world},
		Progress:    s.progress,
		Storage:     store,
		Signer:      signer,
	}, nil, zap.NewNop(), ReportServiceConfig{})
	return s, svc
}

func downloadToken(t *testing.T, res *dto.ReportResponse) string {
	t.Helper()
	require.True(t, strings.HasPrefix(res.DownloadURL, "/api/v1/reports/download/"))
	return strings.TrimPrefix(res.DownloadURL, "/api/v1/reports/download/")
}

func TestExportCourseProgressCSV(t *testing.T) {
	ctx := context.Background()
	s, svc := newReportFixture(t, nil)
	completeRegularModules(t, s)
	_, err := s.quiz.Submit(ctx, barista, beanModule1, answers(false))
	require.NoError(t, err)

	res, err := svc.ExportCourseProgress(ctx, beanCourse, dto.ReportRequest{Format: dto.ReportFormatCSV})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows, "pending students are not reported")
	assert.Equal(t, beanCourse, res.CourseID)
	assert.True(t, res.ExpiresAt.After(time.Now()))

	download, err := svc.ResolveDownload(ctx, downloadToken(t, res))
	require.NoError(t, err)
	defer download.Reader.Close()
	assert.Equal(t, "text/csv", download.ContentType)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))

	data, err := io.ReadAll(download.Reader)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), download.Size)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Student", "Email", "Module " + beanModule1, "Module " + beanModule2, "Module " + beanFinal, "Completed"}, rows[0])
	assert.Equal(t, "Ana Barista", rows[1][0])
	assert.Equal(t, "completed (100%, 2 attempts)", rows[1][2])
	assert.Equal(t, "not-started", rows[1][4])
	assert.Equal(t, "2/2", rows[1][5])
	assert.Equal(t, "Ben Brewer", rows[2][0])
	assert.Equal(t, "0/2", rows[2][5])
}

func TestExportCourseProgressPDF(t *testing.T) {
	ctx := context.Background()
	_, svc := newReportFixture(t, nil)

	res, err := svc.ExportCourseProgress(ctx, beanCourse, dto.ReportRequest{Format: dto.ReportFormatPDF})
	require.NoError(t, err)

	download, err := svc.ResolveDownload(ctx, downloadToken(t, res))
	require.NoError(t, err)
	defer download.Reader.Close()
	assert.Equal(t, "application/pdf", download.ContentType)

	head := make([]byte, 5)
	_, err = io.ReadFull(download.Reader, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(head))
}

func TestExportCourseProgressValidation(t *testing.T) {
	ctx := context.Background()
	_, svc := newReportFixture(t, nil)

	_, err := svc.ExportCourseProgress(ctx, beanCourse, dto.ReportRequest{Format: "xlsx"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.ExportCourseProgress(ctx, "missing", dto.ReportRequest{Format: dto.ReportFormatCSV})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestResolveDownloadRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	_, svc := newReportFixture(t, nil)

	_, err := svc.ResolveDownload(ctx, "not-a-token")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	res, err := svc.ExportCourseProgress(ctx, beanCourse, dto.ReportRequest{Format: dto.ReportFormatCSV})
	require.NoError(t, err)
	token := downloadToken(t, res)
	_, err = svc.ResolveDownload(ctx, token[:len(token)-2]+"xx")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, expired := newReportFixture(t, expiredSigner{storage.NewSignedURLSigner("s", time.Hour)})
	_, err = expired.ResolveDownload(ctx, token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestResolveDownloadMissingFile(t *testing.T) {
	ctx := context.Background()
	_, svc := newReportFixture(t, nil)
	token, _, err := storage.NewSignedURLSigner("report-secret", time.Hour).Sign("r1", "course-bean/r1.csv")
	require.NoError(t, err)

	_, err = svc.ResolveDownload(ctx, token)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
