package services_test

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"freshmart/internal/models"
	"freshmart/internal/repositories"
	"freshmart/internal/services"
	"freshmart/pkg/rabbitmq"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockProductRepository is a mock implementation of repositories.ProductRepository
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetAll() ([]models.Product, error) {
	args := m.Called()
	return args.Get(0).([]models.Product), args.Error(1)
}

func (m *MockProductRepository) GetByID(id string) (*models.Product, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockProductRepository) Create(product *models.Product) error {
	args := m.Called(product)
	return args.Error(0)
}

func (m *MockProductRepository) UpdateFields(id string, fields map[string]interface{}) error {
	args := m.Called(id, fields)
	return args.Error(0)
}

func (m *MockProductRepository) Delete(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

// MockUploader is a mock implementation of storage.Uploader
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(filename string, content io.Reader) (string, error) {
	args := m.Called(filename, content)
	return args.String(0), args.Error(1)
}

// MockEventPublisher is a mock implementation of services.ProductEventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishProductEvent(event rabbitmq.ProductEvent) error {
	args := m.Called(event)
	return args.Error(0)
}

func validForm() services.ProductForm {
	return services.ProductForm{
		Name:        "Carrot",
		Price:       "12.5",
		Description: "fresh",
		Category:    "Vegetables",
	}
}

func imageSource() *services.ImageSource {
	return &services.ImageSource{
		Filename: "carrot.jpg",
		Content:  strings.NewReader("fake image bytes"),
	}
}

func TestSubmitNew_ValidationRejections(t *testing.T) {
	cases := []struct {
		name    string
		form    services.ProductForm
		image   *services.ImageSource
		message string
	}{
		{
			name:    "missing image",
			form:    validForm(),
			image:   nil,
			message: services.MsgImageRequired,
		},
		{
			name:    "missing name",
			form:    services.ProductForm{Name: "", Price: "5", Description: "x"},
			image:   imageSource(),
			message: services.MsgNameRequired,
		},
		{
			name:    "missing price",
			form:    services.ProductForm{Name: "Carrot", Price: "  ", Description: "x"},
			image:   imageSource(),
			message: services.MsgPriceRequired,
		},
		{
			name:    "unparseable price",
			form:    services.ProductForm{Name: "Carrot", Price: "abc", Description: "x"},
			image:   imageSource(),
			message: services.MsgPriceInvalid,
		},
		{
			name:    "negative price",
			form:    services.ProductForm{Name: "Carrot", Price: "-1", Description: "x"},
			image:   imageSource(),
			message: services.MsgPriceInvalid,
		},
		{
			name:    "missing description",
			form:    services.ProductForm{Name: "Carrot", Price: "5", Description: "   "},
			image:   imageSource(),
			message: services.MsgDescriptionRequired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := new(MockProductRepository)
			mockUploader := new(MockUploader)
			service := services.NewProductService(mockRepo, mockUploader, nil, nil)

			result := service.SubmitNew(tc.form, tc.image)

			assert.False(t, result.Success)
			assert.False(t, result.CloseForm)
			assert.Equal(t, tc.message, result.Message)
			assert.False(t, service.Loading())
			// Rejection must happen before any upload or repository call.
			mockUploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
			mockRepo.AssertNotCalled(t, "Create", mock.Anything)
		})
	}
}

func TestSubmitNew_UploadThenCreate(t *testing.T) {
	mockRepo := new(MockProductRepository)
	mockUploader := new(MockUploader)
	service := services.NewProductService(mockRepo, mockUploader, nil, nil)

	uploadedURL := "http://localhost:8080/uploads/carrot.jpg"
	mockUploader.On("Upload", "carrot.jpg", mock.Anything).Return(uploadedURL, nil).Once()

	var created *models.Product
	mockRepo.On("Create", mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(0).(*models.Product)
	}).Return(nil).Once()
	mockRepo.On("GetAll").Return([]models.Product{}, nil).Once()

	result := service.SubmitNew(validForm(), imageSource())

	assert.True(t, result.Success)
	assert.True(t, result.CloseForm)
	assert.Equal(t, services.MsgProductAdded, result.Message)
	assert.False(t, service.Loading())

	if assert.NotNil(t, created) {
		assert.Equal(t, "Carrot", created.Name)
		assert.Equal(t, 12.5, created.Price)
		assert.Equal(t, "fresh", created.Description)
		assert.Equal(t, uploadedURL, created.Image)
		assert.Greater(t, created.DateAdded, int64(0))
	}
	mockUploader.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

func TestSubmitNew_CreateFailureKeepsFormOpen(t *testing.T) {
	mockRepo := new(MockProductRepository)
	mockUploader := new(MockUploader)
	service := services.NewProductService(mockRepo, mockUploader, nil, nil)

	mockUploader.On("Upload", mock.Anything, mock.Anything).Return("http://example.com/img.jpg", nil).Once()
	mockRepo.On("Create", mock.Anything).Return(fmt.Errorf("database error")).Once()

	result := service.SubmitNew(validForm(), imageSource())

	assert.False(t, result.Success)
	assert.False(t, result.CloseForm)
	assert.Equal(t, "database error", result.Message)
	assert.False(t, service.Loading())
	mockRepo.AssertExpectations(t)
}

func TestSubmitNew_UploadFailure(t *testing.T) {
	mockRepo := new(MockProductRepository)
	mockUploader := new(MockUploader)
	service := services.NewProductService(mockRepo, mockUploader, nil, nil)

	mockUploader.On("Upload", mock.Anything, mock.Anything).Return("", fmt.Errorf("connection reset")).Once()

	result := service.SubmitNew(validForm(), imageSource())

	assert.False(t, result.Success)
	assert.False(t, result.CloseForm)
	assert.Equal(t, services.MsgUploadFailed, result.Message)
	assert.False(t, service.Loading())
	// The dependent record write must never be attempted.
	mockRepo.AssertNotCalled(t, "Create", mock.Anything)
}

func TestSubmitEdit_WithoutImageOmitsImageKey(t *testing.T) {
	mockRepo := new(MockProductRepository)
	mockUploader := new(MockUploader)
	service := services.NewProductService(mockRepo, mockUploader, nil, nil)

	var fields map[string]interface{}
	mockRepo.On("UpdateFields", "prod-1", mock.Anything).Run(func(args mock.Arguments) {
		fields = args.Get(1).(map[string]interface{})
	}).Return(nil).Once()
	mockRepo.On("GetAll").Return([]models.Product{}, nil).Once()

	result := service.SubmitEdit("prod-1", validForm(), nil)

	assert.True(t, result.Success)
	assert.True(t, result.CloseForm)
	assert.Equal(t, services.MsgProductUpdated, result.Message)

	if assert.NotNil(t, fields) {
		assert.NotContains(t, fields, "image")
		assert.Equal(t, "Carrot", fields["name"])
		assert.Equal(t, 12.5, fields["price"])
		assert.Equal(t, "fresh", fields["description"])
		assert.Equal(t, "Vegetables", fields["category"])
	}
	mockUploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	mockRepo.AssertExpectations(t)
}

func TestSubmitEdit_WithNewImageUploadsFirst(t *testing.T) {
	mockRepo := new(MockProductRepository)
	mockUploader := new(MockUploader)
	service := services.NewProductService(mockRepo, mockUploader, nil, nil)

	uploadedURL := "http://example.com/new.jpg"
	mockUploader.On("Upload", "carrot.jpg", mock.Anything).Return(uploadedURL, nil).Once()

	var fields map[string]interface{}
	mockRepo.On("UpdateFields", "prod-1", mock.Anything).Run(func(args mock.Arguments) {
		fields = args.Get(1).(map[string]interface{})
	}).Return(nil).Once()
	mockRepo.On("GetAll").Return([]models.Product{}, nil).Once()

	result := service.SubmitEdit("prod-1", validForm(), imageSource())

	assert.True(t, result.Success)
	if assert.NotNil(t, fields) {
		assert.Equal(t, uploadedURL, fields["image"])
	}
	mockUploader.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

func TestSubmitEdit_UploadFailureSkipsUpdate(t *testing.T) {
	mockRepo := new(MockProductRepository)
	mockUploader := new(MockUploader)
	service := services.NewProductService(mockRepo, mockUploader, nil, nil)

	mockUploader.On("Upload", mock.Anything, mock.Anything).Return("", fmt.Errorf("timeout")).Once()

	result := service.SubmitEdit("prod-1", validForm(), imageSource())

	assert.False(t, result.Success)
	assert.Equal(t, services.MsgUploadFailed, result.Message)
	mockRepo.AssertNotCalled(t, "UpdateFields", mock.Anything, mock.Anything)
}

func TestDeleteProduct_SuccessRefetchesOnce(t *testing.T) {
	mockRepo := new(MockProductRepository)
	service := services.NewProductService(mockRepo, new(MockUploader), nil, nil)

	mockRepo.On("Delete", "prod-1").Return(nil).Once()
	mockRepo.On("GetAll").Return([]models.Product{}, nil).Once()

	result := service.DeleteProduct("prod-1")

	assert.True(t, result.Success)
	assert.Equal(t, services.MsgProductDeleted, result.Message)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNumberOfCalls(t, "GetAll", 1)
}

func TestDeleteProduct_FailureSkipsRefetch(t *testing.T) {
	mockRepo := new(MockProductRepository)
	service := services.NewProductService(mockRepo, new(MockUploader), nil, nil)

	mockRepo.On("Delete", "prod-99").Return(fmt.Errorf("product with ID prod-99 not found for deletion")).Once()

	result := service.DeleteProduct("prod-99")

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "not found")
	mockRepo.AssertNotCalled(t, "GetAll")
}

func TestSubmitNew_PublishesChangeNotification(t *testing.T) {
	repo := repositories.NewMemoryProductRepository()
	mockUploader := new(MockUploader)
	mockUploader.On("Upload", mock.Anything, mock.Anything).Return("http://example.com/img.jpg", nil).Once()

	bus := EventBus.New()
	var notified [][]models.Product
	err := bus.Subscribe(services.TopicProductsChanged, func(products []models.Product) {
		notified = append(notified, products)
	})
	assert.NoError(t, err)

	mockEvents := new(MockEventPublisher)
	mockEvents.On("PublishProductEvent", mock.Anything).Return(nil).Once()

	service := services.NewProductService(repo, mockUploader, bus, mockEvents)

	result := service.SubmitNew(validForm(), imageSource())
	assert.True(t, result.Success)

	// EventBus delivers synchronously for plain Subscribe.
	if assert.Len(t, notified, 1) {
		assert.Len(t, notified[0], 1)
		assert.Equal(t, "Carrot", notified[0][0].Name)
	}
	mockEvents.AssertExpectations(t)
}

func TestFilterProducts(t *testing.T) {
	all := []models.Product{
		{ID: "1", Name: "Carrot", Description: "fresh and crunchy", Category: "Vegetables"},
		{ID: "2", Name: "Apple", Description: "sweet", Category: "Fruits"},
		{ID: "3", Name: "Milk", Description: "fresh dairy", Category: "Dairy Products"},
	}

	t.Run("empty search and All returns input unchanged", func(t *testing.T) {
		filtered := services.FilterProducts(all, "", models.CategoryAll)
		assert.Equal(t, all, filtered)
	})

	t.Run("search matches name or description case-insensitively", func(t *testing.T) {
		filtered := services.FilterProducts(all, "FRESH", "")
		assert.Len(t, filtered, 2)
		assert.Equal(t, "Carrot", filtered[0].Name)
		assert.Equal(t, "Milk", filtered[1].Name)
	})

	t.Run("category filter restricts results", func(t *testing.T) {
		filtered := services.FilterProducts(all, "", "Fruits")
		assert.Len(t, filtered, 1)
		assert.Equal(t, "Apple", filtered[0].Name)
	})

	t.Run("search and category combine", func(t *testing.T) {
		filtered := services.FilterProducts(all, "fresh", "Dairy")
		assert.Len(t, filtered, 1)
		assert.Equal(t, "Milk", filtered[0].Name)
	})

	t.Run("idempotent under the same predicate", func(t *testing.T) {
		once := services.FilterProducts(all, "fresh", "Vegetables")
		twice := services.FilterProducts(once, "fresh", "Vegetables")
		assert.Equal(t, once, twice)
	})
}

// blockingUploader parks the first upload until released, holding the
// submission in flight so tests can observe the loading window.
type blockingUploader struct {
	started chan struct{}
	release chan struct{}
}

func (u *blockingUploader) Upload(filename string, content io.Reader) (string, error) {
	close(u.started)
	<-u.release
	return "http://example.com/uploads/slow.jpg", nil
}

type stubUploader struct{}

func (stubUploader) Upload(filename string, content io.Reader) (string, error) {
	return "http://example.com/uploads/stub.jpg", nil
}

func TestSubmitNew_DuplicateWhileInFlight(t *testing.T) {
	repo := repositories.NewMemoryProductRepository()
	uploader := &blockingUploader{started: make(chan struct{}), release: make(chan struct{})}
	service := services.NewProductService(repo, uploader, nil, nil)

	first := make(chan services.SubmitResult, 1)
	go func() {
		first <- service.SubmitNew(validForm(), imageSource())
	}()

	<-uploader.started
	assert.True(t, service.Loading())

	second := service.SubmitNew(validForm(), imageSource())
	assert.False(t, second.Success)
	assert.Equal(t, services.MsgSubmitInProgress, second.Message)

	close(uploader.release)
	result := <-first
	assert.True(t, result.Success)
	assert.False(t, service.Loading())

	products, err := repo.GetAll()
	assert.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestSubmitNew_ConcurrentCallers(t *testing.T) {
	repo := repositories.NewMemoryProductRepository()
	service := services.NewProductService(repo, stubUploader{}, nil, nil)

	const callers = 8
	results := make([]services.SubmitResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = service.SubmitNew(validForm(), imageSource())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
			assert.Equal(t, services.MsgProductAdded, result.Message)
		} else {
			assert.Equal(t, services.MsgSubmitInProgress, result.Message)
		}
	}
	assert.GreaterOrEqual(t, succeeded, 1)

	products, err := repo.GetAll()
	assert.NoError(t, err)
	assert.Len(t, products, succeeded)
	assert.Equal(t, services.StateIdle, service.State())
	assert.False(t, service.Loading())
}

func TestSubmissionStateTransitions(t *testing.T) {
	bus := EventBus.New()
	var states []services.SubmissionState
	err := bus.Subscribe(services.TopicSubmissionState, func(state services.SubmissionState) {
		states = append(states, state)
	})
	assert.NoError(t, err)

	mockRepo := new(MockProductRepository)
	mockUploader := new(MockUploader)
	service := services.NewProductService(mockRepo, mockUploader, bus, nil)

	t.Run("rejection returns to idle", func(t *testing.T) {
		states = nil
		result := service.SubmitNew(validForm(), nil)
		assert.False(t, result.Success)
		assert.Equal(t, []services.SubmissionState{
			services.StateValidating,
			services.StateRejected,
			services.StateIdle,
		}, states)
	})

	t.Run("upload failure returns to idle", func(t *testing.T) {
		states = nil
		mockUploader.On("Upload", mock.Anything, mock.Anything).Return("", fmt.Errorf("disk full")).Once()
		result := service.SubmitNew(validForm(), imageSource())
		assert.Equal(t, services.MsgUploadFailed, result.Message)
		assert.Equal(t, []services.SubmissionState{
			services.StateValidating,
			services.StateUploading,
			services.StateUploadFailed,
			services.StateIdle,
		}, states)
	})

	t.Run("success passes through done before idle", func(t *testing.T) {
		states = nil
		mockUploader.On("Upload", mock.Anything, mock.Anything).Return("http://example.com/uploads/c.jpg", nil).Once()
		mockRepo.On("Create", mock.Anything).Return(nil).Once()
		mockRepo.On("GetAll").Return([]models.Product{}, nil).Once()
		result := service.SubmitNew(validForm(), imageSource())
		assert.True(t, result.Success)
		assert.Equal(t, []services.SubmissionState{
			services.StateValidating,
			services.StateUploading,
			services.StatePersisting,
			services.StateDone,
			services.StateIdle,
		}, states)
		assert.Equal(t, services.StateIdle, service.State())
	})
}
