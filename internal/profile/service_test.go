package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/kindred/internal/model"
	"github.com/hitoshi/kindred/internal/repository"
	"github.com/hitoshi/kindred/internal/security"
)

// --- モック ---

type mockUserRepo struct {
	repository.UserRepository
	completed []string
}

func (m *mockUserRepo) MarkComplete(ctx context.Context, userID string) error {
	m.completed = append(m.completed, userID)
	return nil
}

type mockProfileRepo struct {
	details  *model.ProfileDetails
	upserted *model.ProfileDetails
}

func (m *mockProfileRepo) FindDetails(ctx context.Context, userID string) (*model.ProfileDetails, error) {
	return m.details, nil
}
func (m *mockProfileRepo) UpsertDetails(ctx context.Context, userID string, d *model.ProfileDetails) error {
	m.upserted = d
	return nil
}
func (m *mockProfileRepo) ListSuggestions(ctx context.Context, userID string, genders []string, limit int) ([]repository.Suggestion, error) {
	return nil, nil
}

// memImageRepo はメモリ上で画像を保持する。
type memImageRepo struct {
	images []model.Image
}

func (m *memImageRepo) ListByUserID(ctx context.Context, userID string) ([]model.Image, error) {
	return m.images, nil
}
func (m *memImageRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	return len(m.images), nil
}
func (m *memImageRepo) Append(ctx context.Context, userID, key string) (*model.Image, error) {
	img := model.Image{ID: fmt.Sprintf("img-%d", len(m.images)+1), UserID: userID, ObjectKey: key, Order: len(m.images) + 1}
	m.images = append(m.images, img)
	return &img, nil
}
func (m *memImageRepo) Delete(ctx context.Context, userID, imageID string) (bool, error) {
	for i, img := range m.images {
		if img.ID == imageID {
			m.images = append(m.images[:i], m.images[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// memPromptRepo はメモリ上でプロンプトを保持する。
type memPromptRepo struct {
	prompts []model.Prompt
}

func (m *memPromptRepo) ListByUserID(ctx context.Context, userID string) ([]model.Prompt, error) {
	return m.prompts, nil
}
func (m *memPromptRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	return len(m.prompts), nil
}
func (m *memPromptRepo) Create(ctx context.Context, p *model.Prompt) error {
	p.ID = fmt.Sprintf("p-%d", len(m.prompts)+1)
	p.Order = len(m.prompts) + 1
	m.prompts = append(m.prompts, *p)
	return nil
}
func (m *memPromptRepo) UpdateByOrder(ctx context.Context, userID string, order int, q, a string) (bool, error) {
	for i := range m.prompts {
		if m.prompts[i].Order == order {
			m.prompts[i].Question, m.prompts[i].Answer = q, a
			return true, nil
		}
	}
	return false, nil
}
func (m *memPromptRepo) DeleteByOrder(ctx context.Context, userID string, order int) (bool, error) {
	for i := range m.prompts {
		if m.prompts[i].Order == order {
			m.prompts = append(m.prompts[:i], m.prompts[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type mockObjectStore struct {
	existing   map[string]bool
	put        map[string][]byte
	deleted    []string
	presignErr error
	deleteErr  error
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{existing: map[string]bool{}, put: map[string][]byte{}}
}

func (m *mockObjectStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return "https://s3.test/put/" + key, m.presignErr
}
func (m *mockObjectStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.presignErr != nil {
		return "", m.presignErr
	}
	return "https://s3.test/get/" + key, nil
}
func (m *mockObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	return m.existing[key], nil
}
func (m *mockObjectStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, _ := io.ReadAll(body)
	m.put[key] = data
	m.existing[key] = true
	return nil
}
func (m *mockObjectStore) Delete(ctx context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	return m.deleteErr
}

type mockFetcher struct {
	fetchFn func(ctx context.Context, rawURL string) (*security.FetchedImage, error)
}

func (m *mockFetcher) ValidateURL(rawURL string) error { return nil }
func (m *mockFetcher) Fetch(ctx context.Context, rawURL string) (*security.FetchedImage, error) {
	return m.fetchFn(ctx, rawURL)
}

type fixture struct {
	svc      *Service
	users    *mockUserRepo
	profiles *mockProfileRepo
	images   *memImageRepo
	prompts  *memPromptRepo
	objects  *mockObjectStore
	fetcher  *mockFetcher
}

func newFixture() *fixture {
	f := &fixture{
		users:    &mockUserRepo{},
		profiles: &mockProfileRepo{},
		images:   &memImageRepo{},
		prompts:  &memPromptRepo{},
		objects:  newMockObjectStore(),
		fetcher:  &mockFetcher{},
	}
	f.svc = NewService(f.users, f.profiles, f.images, f.prompts, f.objects, f.fetcher, nil, Config{})
	f.svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return f
}

func apiErrorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func fullDetails() *model.ProfileDetails {
	d := &model.ProfileDetails{Height: intPtr(170)}
	for _, p := range []**string{
		&d.Name, &d.Bio, &d.Birthdate, &d.Pronouns, &d.Gender, &d.Sexuality,
		&d.Location, &d.Job, &d.Company, &d.School, &d.Ethnicity, &d.Politics,
		&d.Religion, &d.RelationshipType, &d.DatingIntention, &d.Drinks, &d.Smokes,
	} {
		*p = strPtr("x")
	}
	return d
}

// --- テスト ---

// TestService_Get_PresignsImages は画像URLが署名付きURLに解決されることを検証する。
func TestService_Get_PresignsImages(t *testing.T) {
	f := newFixture()
	f.profiles.details = &model.ProfileDetails{Name: strPtr("Ana")}
	f.images.images = []model.Image{{ID: "i1", ObjectKey: "uploads/1-a.jpg", Order: 1}}
	f.prompts.prompts = []model.Prompt{{ID: "p1", Question: "q", Answer: "a", Order: 1}}

	view, err := f.svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !view.Details.HasName() {
		t.Error("details should carry name")
	}
	if len(view.Images) != 1 || view.Images[0].URL != "https://s3.test/get/uploads/1-a.jpg" {
		t.Errorf("images = %+v", view.Images)
	}
	if len(view.Prompts) != 1 {
		t.Errorf("prompts = %+v", view.Prompts)
	}
}

// TestService_Get_PresignFailureFallsBackToKey は署名に失敗してもキーを返すことを検証する。
func TestService_Get_PresignFailureFallsBackToKey(t *testing.T) {
	f := newFixture()
	f.objects.presignErr = errors.New("no credentials")
	f.images.images = []model.Image{{ID: "i1", ObjectKey: "uploads/1-a.jpg", Order: 1}}

	view, err := f.svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if view.Images[0].URL != "uploads/1-a.jpg" {
		t.Errorf("URL = %q, want object key", view.Images[0].URL)
	}
	if view.Details != nil {
		t.Error("details should be nil when not created")
	}
}

// TestService_UpdateDetails_SanitizesText はテキスト項目からHTMLが除去されることを検証する。
func TestService_UpdateDetails_SanitizesText(t *testing.T) {
	f := newFixture()

	err := f.svc.UpdateDetails(context.Background(), "u1", &model.ProfileDetails{
		Name: strPtr(" Ana "),
		Bio:  strPtr("<script>x</script>I like <b>tea</b>"),
	})
	if err != nil {
		t.Fatalf("UpdateDetails error: %v", err)
	}
	if got := *f.profiles.upserted.Name; got != "Ana" {
		t.Errorf("Name = %q", got)
	}
	if got := *f.profiles.upserted.Bio; got != "I like tea" {
		t.Errorf("Bio = %q", got)
	}
	if f.profiles.upserted.Job != nil {
		t.Error("unset fields should stay nil")
	}
}

func TestService_UpdateDetails_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   *model.ProfileDetails
	}{
		{"nil", nil},
		{"height zero", &model.ProfileDetails{Height: intPtr(0)}},
		{"height huge", &model.ProfileDetails{Height: intPtr(1000)}},
		{"bad birthdate", &model.ProfileDetails{Birthdate: strPtr("01/02/1999")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			err := f.svc.UpdateDetails(context.Background(), "u1", tt.in)
			if apiErrorCode(err) != model.ErrCodeInvalidInput {
				t.Errorf("error = %v, want INVALID_INPUT", err)
			}
			if f.profiles.upserted != nil {
				t.Error("should not upsert invalid details")
			}
		})
	}
}

func TestService_UploadURL(t *testing.T) {
	f := newFixture()

	target, err := f.svc.UploadURL(context.Background(), "me.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadURL error: %v", err)
	}
	if target.Key != "uploads/1700000000000-me.jpg" {
		t.Errorf("Key = %q", target.Key)
	}
	if !strings.HasSuffix(target.UploadURL, target.Key) {
		t.Errorf("UploadURL = %q", target.UploadURL)
	}

	if _, err := f.svc.UploadURL(context.Background(), "x.pdf", "application/pdf"); apiErrorCode(err) != model.ErrCodeInvalidInput {
		t.Errorf("non-image error = %v, want INVALID_INPUT", err)
	}
}

// TestService_ConfirmUpload はアップロード済みオブジェクトの登録を検証する。
func TestService_ConfirmUpload(t *testing.T) {
	f := newFixture()
	f.objects.existing["uploads/1-a.jpg"] = true

	img, err := f.svc.ConfirmUpload(context.Background(), "u1", "uploads/1-a.jpg")
	if err != nil {
		t.Fatalf("ConfirmUpload error: %v", err)
	}
	if img.Order != 1 || img.ObjectKey != "uploads/1-a.jpg" {
		t.Errorf("image = %+v", img)
	}

	if _, err := f.svc.ConfirmUpload(context.Background(), "u1", "uploads/missing.jpg"); apiErrorCode(err) != model.ErrCodeObjectNotFound {
		t.Errorf("missing error = %v, want OBJECT_NOT_FOUND", err)
	}
	if _, err := f.svc.ConfirmUpload(context.Background(), "u1", "private/secret.jpg"); apiErrorCode(err) != model.ErrCodeInvalidInput {
		t.Errorf("foreign key error = %v, want INVALID_INPUT", err)
	}
}

// TestService_ImageLimit は7枚目の画像が拒否されることを検証する。
func TestService_ImageLimit(t *testing.T) {
	f := newFixture()
	for i := 0; i < model.RequiredImageCount; i++ {
		_, _ = f.images.Append(context.Background(), "u1", fmt.Sprintf("uploads/%d.jpg", i))
	}
	f.objects.existing["uploads/7.jpg"] = true
	f.fetcher.fetchFn = func(ctx context.Context, rawURL string) (*security.FetchedImage, error) {
		t.Fatal("fetch should not be called when the limit is reached")
		return nil, nil
	}

	if _, err := f.svc.ConfirmUpload(context.Background(), "u1", "uploads/7.jpg"); apiErrorCode(err) != model.ErrCodeImageLimit {
		t.Errorf("ConfirmUpload error = %v, want IMAGE_LIMIT", err)
	}
	if _, err := f.svc.ImportImage(context.Background(), "u1", "https://example.com/a.jpg"); apiErrorCode(err) != model.ErrCodeImageLimit {
		t.Errorf("ImportImage error = %v, want IMAGE_LIMIT", err)
	}
}

// TestService_ImportImage_StoresAndAppends は取得した画像が保存・登録されることを検証する。
func TestService_ImportImage_StoresAndAppends(t *testing.T) {
	f := newFixture()
	f.fetcher.fetchFn = func(ctx context.Context, rawURL string) (*security.FetchedImage, error) {
		return &security.FetchedImage{Data: []byte("png"), ContentType: "image/png", Filename: "me.png"}, nil
	}

	img, err := f.svc.ImportImage(context.Background(), "u1", "https://example.com/me.png")
	if err != nil {
		t.Fatalf("ImportImage error: %v", err)
	}
	if img.ObjectKey != "uploads/1700000000000-me.png" {
		t.Errorf("ObjectKey = %q", img.ObjectKey)
	}
	if string(f.objects.put[img.ObjectKey]) != "png" {
		t.Error("image bytes should be stored")
	}
}

// TestService_ImportImage_ClassifiesErrors は取得エラーがAPIエラーコードに変換されることを検証する。
func TestService_ImportImage_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: empty", security.ErrInvalidURL), model.ErrCodeInvalidURL},
		{fmt.Errorf("%w: 10.0.0.1", security.ErrBlockedURL), model.ErrCodeSSRFBlocked},
		{security.ErrNotImage, model.ErrCodeFetchFailed},
		{security.ErrTooLarge, model.ErrCodeFetchFailed},
		{errors.New("connection refused"), model.ErrCodeFetchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.err.Error(), func(t *testing.T) {
			f := newFixture()
			f.fetcher.fetchFn = func(ctx context.Context, rawURL string) (*security.FetchedImage, error) {
				return nil, tt.err
			}
			_, err := f.svc.ImportImage(context.Background(), "u1", "https://example.com/x")
			if got := apiErrorCode(err); got != tt.want {
				t.Errorf("code = %q, want %q", got, tt.want)
			}
			if len(f.images.images) != 0 {
				t.Error("no image should be appended")
			}
		})
	}
}

// TestService_DeleteImage はDB行とストレージ上のオブジェクトが削除されることを検証する。
func TestService_DeleteImage(t *testing.T) {
	f := newFixture()
	img, _ := f.images.Append(context.Background(), "u1", "uploads/1-a.jpg")
	f.objects.deleteErr = errors.New("storage down")

	if err := f.svc.DeleteImage(context.Background(), "u1", img.ID); err != nil {
		t.Fatalf("DeleteImage error: %v", err)
	}
	if len(f.images.images) != 0 {
		t.Error("image row should be deleted")
	}
	if len(f.objects.deleted) != 1 || f.objects.deleted[0] != "uploads/1-a.jpg" {
		t.Errorf("deleted objects = %v", f.objects.deleted)
	}

	if err := f.svc.DeleteImage(context.Background(), "u1", img.ID); apiErrorCode(err) != model.ErrCodeObjectNotFound {
		t.Errorf("second delete error = %v, want OBJECT_NOT_FOUND", err)
	}
}

func TestService_DownloadURL(t *testing.T) {
	f := newFixture()
	f.objects.existing["uploads/1-a.jpg"] = true

	url, err := f.svc.DownloadURL(context.Background(), "uploads/1-a.jpg")
	if err != nil || url != "https://s3.test/get/uploads/1-a.jpg" {
		t.Errorf("DownloadURL = %q, %v", url, err)
	}
	if _, err := f.svc.DownloadURL(context.Background(), "uploads/none.jpg"); apiErrorCode(err) != model.ErrCodeObjectNotFound {
		t.Errorf("missing error = %v, want OBJECT_NOT_FOUND", err)
	}
}

// TestService_Finalize_PendingActions は不足項目がpending_actionsとして返ることを検証する。
func TestService_Finalize_PendingActions(t *testing.T) {
	f := newFixture()
	for i := 0; i < 4; i++ {
		_, _ = f.images.Append(context.Background(), "u1", fmt.Sprintf("uploads/%d.jpg", i))
	}
	_ = f.prompts.Create(context.Background(), &model.Prompt{Question: "q", Answer: "a"})
	f.profiles.details = &model.ProfileDetails{Name: strPtr("Ana")}

	res, err := f.svc.Finalize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	want := []string{"Upload 2 more images", "Upload 2 more prompts", "Fill 17 more profile details"}
	if strings.Join(res.PendingActions, "|") != strings.Join(want, "|") {
		t.Errorf("pending = %v, want %v", res.PendingActions, want)
	}
	if res.Finalized() || len(f.users.completed) != 0 {
		t.Error("incomplete profile must not be finalized")
	}
}

func TestService_Finalize_NoDetails(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Finalize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	if got := res.PendingActions[2]; got != "Fill 18 more profile details" {
		t.Errorf("details pending = %q", got)
	}
}

// TestService_Finalize_Complete はすべて揃っている場合に完成フラグが立つことを検証する。
func TestService_Finalize_Complete(t *testing.T) {
	f := newFixture()
	for i := 0; i < model.RequiredImageCount; i++ {
		_, _ = f.images.Append(context.Background(), "u1", fmt.Sprintf("uploads/%d.jpg", i))
	}
	for i := 0; i < model.RequiredPromptCount; i++ {
		_ = f.prompts.Create(context.Background(), &model.Prompt{Question: "q", Answer: "a"})
	}
	f.profiles.details = fullDetails()

	res, err := f.svc.Finalize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	if !res.Finalized() {
		t.Errorf("pending = %v, want none", res.PendingActions)
	}
	if len(f.users.completed) != 1 || f.users.completed[0] != "u1" {
		t.Errorf("completed = %v", f.users.completed)
	}
}
