package service

import (
	"context"
	"sync"

	"docqa-go/internal/model"
	"docqa-go/pkg/llm"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// memDocs 是内存中的 DocumentRepository。
type memDocs struct {
	mu   sync.Mutex
	docs []model.Document
}

func (m *memDocs) Create(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ID = uint(len(m.docs) + 1)
	m.docs = append(m.docs, *doc)
	return nil
}

func (m *memDocs) FindAll(_ context.Context) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Document(nil), m.docs...), nil
}

func (m *memDocs) FindByNamespace(_ context.Context, ns string) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Document
	for _, d := range m.docs {
		if d.Namespace == ns {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDocs) FindByID(_ context.Context, id uint) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.ID == id {
			d := d
			return &d, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memDocs) FindByUser(_ context.Context, userID uint) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Document
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

// memUsers 是内存中的 UserRepository。
type memUsers struct {
	users []*model.User
}

func (m *memUsers) Create(user *model.User) error {
	user.ID = uint(len(m.users) + 1)
	m.users = append(m.users, user)
	return nil
}

func (m *memUsers) FindByUsername(username string) (*model.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memUsers) FindByID(id uint) (*model.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memUsers) Update(user *model.User) error {
	return nil
}

func (m *memUsers) FindWithPagination(offset, limit int) ([]model.User, int64, error) {
	var out []model.User
	for i := offset; i < len(m.users) && i < offset+limit; i++ {
		out = append(out, *m.users[i])
	}
	return out, int64(len(m.users)), nil
}

// fakeLLM 记录收到的消息，把 answer 拆成两段流式写出。
type fakeLLM struct {
	answer   string
	err      error
	calls    int
	messages []llm.Message
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, writer llm.MessageWriter) (string, error) {
	f.calls++
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	if writer != nil {
		half := len(f.answer) / 2
		for _, part := range []string{f.answer[:half], f.answer[half:]} {
			if err := writer.WriteMessage(websocket.TextMessage, []byte(part)); err != nil {
				return "", err
			}
		}
	}
	return f.answer, nil
}

type frameRecorder struct {
	frames []string
}

func (r *frameRecorder) WriteMessage(_ int, data []byte) error {
	r.frames = append(r.frames, string(data))
	return nil
}
