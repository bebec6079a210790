package services

import (
	"io"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"freshmart/internal/models"
	"freshmart/internal/repositories"
	"freshmart/pkg/rabbitmq"
	"freshmart/pkg/storage"

	"github.com/asaskevich/EventBus"
	"github.com/go-playground/validator/v10"
)

// Bus topics for list consumers and submission observers.
const (
	TopicProductsChanged = "products.changed"
	TopicSubmissionState = "submission.state"
)

// User-facing messages emitted by the submission workflow. Validation
// failures each get a distinct message; upload failures get a generic one.
const (
	MsgImageRequired       = "please select a product image"
	MsgNameRequired        = "please enter product name"
	MsgPriceRequired       = "please enter price"
	MsgPriceInvalid        = "please enter a valid price"
	MsgDescriptionRequired = "please enter description"
	MsgUploadFailed        = "failed to upload image, please try again"
	MsgSubmitInProgress    = "a submission is already in progress"
	MsgProductAdded        = "product added successfully"
	MsgProductUpdated      = "product updated successfully"
	MsgProductDeleted      = "product deleted successfully"
)

// SubmissionState tracks a single form submission through the workflow.
// Terminal failure states return the orchestrator to StateIdle with the
// form retained; StateDone instructs the caller to dismiss the form.
type SubmissionState string

const (
	StateIdle          SubmissionState = "idle"
	StateValidating    SubmissionState = "validating"
	StateRejected      SubmissionState = "rejected"
	StateUploading     SubmissionState = "uploading"
	StateUploadFailed  SubmissionState = "upload_failed"
	StatePersisting    SubmissionState = "persisting"
	StatePersistFailed SubmissionState = "persist_failed"
	StateDone          SubmissionState = "done"
)

// ProductForm carries the raw field values collected by a product form.
// Price arrives as text and is parsed during validation.
type ProductForm struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ImageSource is a selected image pending upload. A nil ImageSource means
// no image was selected.
type ImageSource struct {
	Filename string
	Content  io.Reader
}

// SubmitResult is the outcome of a submission or deletion. CloseForm tells
// the caller to dismiss the form; on failure the form stays open with its
// input retained.
type SubmitResult struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	CloseForm bool            `json:"close_form"`
	Product   *models.Product `json:"product,omitempty"`
}

// ProductEventPublisher publishes record change events to the message queue.
type ProductEventPublisher interface {
	PublishProductEvent(event rabbitmq.ProductEvent) error
}

// ProductService coordinates the multi-step process of persisting a product:
// validation, image upload, record write, and change notification. The
// in-flight flag admits at most one submission at a time, so state
// transitions are serial; the state itself is held atomically so State()
// stays safe to read from any goroutine.
type ProductService struct {
	repo     repositories.ProductRepository
	uploader storage.Uploader
	bus      EventBus.Bus
	events   ProductEventPublisher

	inFlight atomic.Bool
	state    atomic.Value // SubmissionState
	validate *validator.Validate
}

// NewProductService creates a new ProductService. The bus and event
// publisher are optional; a nil value disables the corresponding
// notifications.
func NewProductService(repo repositories.ProductRepository, uploader storage.Uploader, bus EventBus.Bus, events ProductEventPublisher) *ProductService {
	s := &ProductService{
		repo:     repo,
		uploader: uploader,
		bus:      bus,
		events:   events,
		validate: validator.New(),
	}
	s.state.Store(StateIdle)
	return s
}

// GetAllProducts retrieves all products and notifies list consumers.
func (s *ProductService) GetAllProducts() ([]models.Product, error) {
	products, err := s.repo.GetAll()
	if err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(TopicProductsChanged, products)
	}
	return products, nil
}

// GetProductByID retrieves a single product by its ID.
func (s *ProductService) GetProductByID(id string) (*models.Product, error) {
	return s.repo.GetByID(id)
}

// Loading reports whether a submission is currently in flight. Callers use
// it to disable the submit control and prevent duplicate submissions.
func (s *ProductService) Loading() bool {
	return s.inFlight.Load()
}

// State returns the current submission state.
func (s *ProductService) State() SubmissionState {
	return s.state.Load().(SubmissionState)
}

// SubmitNew runs the add-product workflow: ordered validation, image upload,
// then record creation. Validation short-circuits on the first failing
// precondition with a distinct message and no repository or upload call.
func (s *ProductService) SubmitNew(form ProductForm, image *ImageSource) SubmitResult {
	if !s.inFlight.CompareAndSwap(false, true) {
		return SubmitResult{Message: MsgSubmitInProgress}
	}
	defer s.inFlight.Store(false)

	s.setState(StateValidating)
	if image == nil {
		return s.reject(MsgImageRequired)
	}
	price, msg := s.validateFields(form)
	if msg != "" {
		return s.reject(msg)
	}

	s.setState(StateUploading)
	imageURL, err := s.uploader.Upload(image.Filename, image.Content)
	if err != nil {
		log.Printf("Image upload failed: %v", err)
		return s.fail(StateUploadFailed, MsgUploadFailed)
	}

	product := &models.Product{
		Name:        strings.TrimSpace(form.Name),
		Price:       price,
		Description: strings.TrimSpace(form.Description),
		Category:    form.Category,
		Image:       imageURL,
		DateAdded:   time.Now().UnixMilli(),
	}

	s.setState(StatePersisting)
	if err := s.repo.Create(product); err != nil {
		log.Printf("Error creating product: %v", err)
		return s.fail(StatePersistFailed, err.Error())
	}

	s.notifyChanged()
	s.publishEvent("product.created", product.ID, product.Name)
	s.finish(StateDone)
	return SubmitResult{Success: true, Message: MsgProductAdded, CloseForm: true, Product: product}
}

// SubmitEdit runs the edit-product workflow. The image is optional: when a
// new image is selected it is uploaded first and its URL included in the
// partial update; otherwise the update omits the image key entirely so the
// prior reference is retained.
func (s *ProductService) SubmitEdit(id string, form ProductForm, image *ImageSource) SubmitResult {
	if !s.inFlight.CompareAndSwap(false, true) {
		return SubmitResult{Message: MsgSubmitInProgress}
	}
	defer s.inFlight.Store(false)

	s.setState(StateValidating)
	price, msg := s.validateFields(form)
	if msg != "" {
		return s.reject(msg)
	}

	fields := map[string]interface{}{
		"name":        strings.TrimSpace(form.Name),
		"price":       price,
		"description": strings.TrimSpace(form.Description),
		"category":    form.Category,
	}

	if image != nil {
		s.setState(StateUploading)
		imageURL, err := s.uploader.Upload(image.Filename, image.Content)
		if err != nil {
			log.Printf("Image upload failed: %v", err)
			return s.fail(StateUploadFailed, MsgUploadFailed)
		}
		fields["image"] = imageURL
	}

	s.setState(StatePersisting)
	if err := s.repo.UpdateFields(id, fields); err != nil {
		log.Printf("Error updating product %s: %v", id, err)
		return s.fail(StatePersistFailed, err.Error())
	}

	s.notifyChanged()
	s.publishEvent("product.updated", id, strings.TrimSpace(form.Name))
	s.finish(StateDone)
	return SubmitResult{Success: true, Message: MsgProductUpdated, CloseForm: true}
}

// DeleteProduct removes a record. On success the list is re-fetched exactly
// once and consumers are notified; on failure the list is left unchanged.
func (s *ProductService) DeleteProduct(id string) SubmitResult {
	if err := s.repo.Delete(id); err != nil {
		log.Printf("Error deleting product %s: %v", id, err)
		return SubmitResult{Message: err.Error()}
	}
	s.notifyChanged()
	s.publishEvent("product.deleted", id, "")
	return SubmitResult{Success: true, Message: MsgProductDeleted}
}

// FilterProducts produces the subset of products whose name or description
// contains the search text (case-insensitive) and whose category matches the
// filter. It is pure and preserves the input ordering.
func FilterProducts(all []models.Product, searchText, category string) []models.Product {
	query := strings.ToLower(strings.TrimSpace(searchText))

	filtered := make([]models.Product, 0, len(all))
	for _, product := range all {
		matchesSearch := query == "" ||
			strings.Contains(strings.ToLower(product.Name), query) ||
			strings.Contains(strings.ToLower(product.Description), query)

		if matchesSearch && product.MatchesCategory(category) {
			filtered = append(filtered, product)
		}
	}
	return filtered
}

// validateFields checks the shared field preconditions in a fixed order,
// returning the parsed price and the first failure message, if any.
func (s *ProductService) validateFields(form ProductForm) (float64, string) {
	if err := s.validate.Var(strings.TrimSpace(form.Name), "required"); err != nil {
		return 0, MsgNameRequired
	}
	priceText := strings.TrimSpace(form.Price)
	if err := s.validate.Var(priceText, "required"); err != nil {
		return 0, MsgPriceRequired
	}
	price, err := strconv.ParseFloat(priceText, 64)
	if err != nil || price < 0 {
		return 0, MsgPriceInvalid
	}
	if err := s.validate.Var(strings.TrimSpace(form.Description), "required"); err != nil {
		return 0, MsgDescriptionRequired
	}
	return price, ""
}

// notifyChanged re-fetches the record list and publishes it to consumers.
func (s *ProductService) notifyChanged() {
	products, err := s.repo.GetAll()
	if err != nil {
		log.Printf("Failed to re-fetch products after change: %v", err)
		return
	}
	if s.bus != nil {
		s.bus.Publish(TopicProductsChanged, products)
	}
}

// publishEvent sends a record change event to the message queue, if one is
// configured. Publish failures never fail the submission.
func (s *ProductService) publishEvent(event, productID, name string) {
	if s.events == nil {
		log.Println("Message queue client is not configured. Skipping event publication.")
		return
	}
	err := s.events.PublishProductEvent(rabbitmq.ProductEvent{
		Event:     event,
		ProductID: productID,
		Name:      name,
	})
	if err != nil {
		log.Printf("Warning: Failed to publish %s event for product %s: %v", event, productID, err)
	}
}

func (s *ProductService) setState(state SubmissionState) {
	s.state.Store(state)
	if s.bus != nil {
		s.bus.Publish(TopicSubmissionState, state)
	}
}

// reject reports a validation failure and returns the orchestrator to idle.
// The idle transition is published so observers can re-enable the form.
func (s *ProductService) reject(msg string) SubmitResult {
	s.setState(StateRejected)
	s.setState(StateIdle)
	return SubmitResult{Message: msg}
}

// fail reports a terminal failure for this attempt and returns to idle; the
// caller keeps the form open so the user can retry.
func (s *ProductService) fail(state SubmissionState, msg string) SubmitResult {
	s.setState(state)
	s.setState(StateIdle)
	return SubmitResult{Message: msg}
}

func (s *ProductService) finish(state SubmissionState) {
	s.setState(state)
	s.setState(StateIdle)
}
