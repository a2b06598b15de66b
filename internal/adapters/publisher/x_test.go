package publisher

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/xapi"
)

type createCall struct {
	text      string
	inReplyTo string
	mediaIDs  []string
}

type stubAPI struct {
	nextID   int
	calls    []createCall
	failAt   int
	err      error
	user     xapi.User
	uploadID string
	uploads  int
}

func (s *stubAPI) CreateTweet(_ context.Context, text, inReplyTo string, mediaIDs []string) (xapi.Tweet, error) {
	s.calls = append(s.calls, createCall{text: text, inReplyTo: inReplyTo, mediaIDs: mediaIDs})
	if s.failAt > 0 && len(s.calls) == s.failAt {
		return xapi.Tweet{}, s.err
	}
	s.nextID++
	return xapi.Tweet{ID: fmt.Sprintf("tw%d", s.nextID), Text: text}, nil
}

func (s *stubAPI) Me(context.Context) (xapi.User, error) {
	if s.err != nil && s.failAt == 0 {
		return xapi.User{}, s.err
	}
	return s.user, nil
}

func (s *stubAPI) UploadMedia(context.Context, []byte, string) (string, error) {
	s.uploads++
	return s.uploadID, nil
}

type stubMedia struct {
	data        []byte
	contentType string
}

func (m *stubMedia) Put(context.Context, string, []byte, string) error { return nil }
func (m *stubMedia) Get(context.Context, string) ([]byte, string, error) {
	return m.data, m.contentType, nil
}
func (m *stubMedia) Delete(context.Context, string) error { return nil }

func TestPublishSingleReturnsTweetID(t *testing.T) {
	api := &stubAPI{}
	x := NewX(api, nil, zerolog.Nop())

	id, err := x.PublishSingle(context.Background(), "Пост", "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if id != "tw1" {
		t.Fatalf("ожидали tw1, получили %s", id)
	}
	if len(api.calls) != 1 || api.calls[0].inReplyTo != "" || api.calls[0].mediaIDs != nil {
		t.Fatalf("одиночный твит не должен быть ответом: %+v", api.calls)
	}
}

func TestPublishThreadChainsReplies(t *testing.T) {
	api := &stubAPI{}
	x := NewX(api, nil, zerolog.Nop())

	ids, err := x.PublishThread(context.Background(), []string{"1/3 а", "2/3 б", "3/3 в"}, "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ожидали 3 идентификатора, получили %v", ids)
	}
	if api.calls[0].inReplyTo != "" || api.calls[1].inReplyTo != "tw1" || api.calls[2].inReplyTo != "tw2" {
		t.Fatalf("каждый сегмент должен отвечать на предыдущий: %+v", api.calls)
	}
}

func TestPublishThreadPartialFailureKeepsIDs(t *testing.T) {
	api := &stubAPI{failAt: 3, err: &xapi.APIError{StatusCode: 503}}
	x := NewX(api, nil, zerolog.Nop())

	ids, err := x.PublishThread(context.Background(), []string{"1/3 а", "2/3 б", "3/3 в"}, "")
	if err == nil {
		t.Fatalf("ожидали ошибку третьего сегмента")
	}
	if len(ids) != 2 || ids[0] != "tw1" || ids[1] != "tw2" {
		t.Fatalf("созданные идентификаторы должны вернуться: %v", ids)
	}
	ext, ok := domain.AsExternal(err)
	if !ok || ext.Category != domain.ServiceErrorServer {
		t.Fatalf("ожидали серверную категорию, получили %v", err)
	}
}

func TestPublishAttachesMediaToFirstTweetOnly(t *testing.T) {
	api := &stubAPI{uploadID: "m1"}
	media := &stubMedia{data: []byte{1, 2, 3}, contentType: "image/jpeg"}
	x := NewX(api, media, zerolog.Nop())

	if _, err := x.PublishThread(context.Background(), []string{"1/2 а", "2/2 б"}, "media-key"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if api.uploads != 1 {
		t.Fatalf("медиа должно загрузиться один раз, получили %d", api.uploads)
	}
	if len(api.calls[0].mediaIDs) != 1 || api.calls[0].mediaIDs[0] != "m1" {
		t.Fatalf("медиа должно прикрепиться к первому твиту: %+v", api.calls[0])
	}
	if api.calls[1].mediaIDs != nil {
		t.Fatalf("второй твит не должен нести медиа: %+v", api.calls[1])
	}
}

func TestPublishSingleSkipsMediaWithoutStore(t *testing.T) {
	api := &stubAPI{}
	x := NewX(api, nil, zerolog.Nop())

	if _, err := x.PublishSingle(context.Background(), "Пост", "media-key"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if api.uploads != 0 || api.calls[0].mediaIDs != nil {
		t.Fatalf("без хранилища ключ медиа игнорируется: %+v", api.calls[0])
	}
}

func TestTestConnectionReturnsUsername(t *testing.T) {
	api := &stubAPI{user: xapi.User{Username: "artcc"}}
	x := NewX(api, nil, zerolog.Nop())

	who, err := x.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if who != "@artcc" {
		t.Fatalf("ожидали @artcc, получили %s", who)
	}
}

func TestClassifyXErrors(t *testing.T) {
	cases := []struct {
		apiErr *xapi.APIError
		want   domain.ServiceErrorCategory
	}{
		{&xapi.APIError{StatusCode: 429}, domain.ServiceErrorRateLimited},
		{&xapi.APIError{StatusCode: 403, Detail: "You are not allowed to create a Tweet with duplicate content."}, domain.ServiceErrorDuplicate},
		{&xapi.APIError{StatusCode: 403, Detail: "Your Tweet text is too long."}, domain.ServiceErrorLength},
		{&xapi.APIError{StatusCode: 401}, domain.ServiceErrorAuth},
		{&xapi.APIError{StatusCode: 503}, domain.ServiceErrorServer},
	}
	for _, tc := range cases {
		err := classify(tc.apiErr)
		ext, ok := domain.AsExternal(err)
		if !ok {
			t.Fatalf("ожидали ошибку внешнего сервиса, получили %v", err)
		}
		if ext.Category != tc.want {
			t.Fatalf("для %+v ожидали категорию %s, получили %s", tc.apiErr, tc.want, ext.Category)
		}
	}
}
