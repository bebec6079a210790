package handlers

import (
	"errors"
	"log"
	"strings"

	"freshmart/internal/models"
	"freshmart/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// ProductHandler handles HTTP requests for products.
type ProductHandler struct {
	service *services.ProductService
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service *services.ProductService) *ProductHandler {
	return &ProductHandler{
		service: service,
	}
}

// RegisterRoutes registers the product routes with the Fiber app.
func (h *ProductHandler) RegisterRoutes(router fiber.Router) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Get("/categories", h.HandleGetCategories)
	productRoutes.Get("/:id", h.HandleGetProductByID)
	productRoutes.Post("/", h.HandleAddProduct)
	productRoutes.Put("/:id", h.HandleEditProduct)
	productRoutes.Delete("/:id", h.HandleDeleteProduct)
}

// HandleGetProducts retrieves all products, optionally filtered by the
// `search` and `category` query parameters.
func (h *ProductHandler) HandleGetProducts(c *fiber.Ctx) error {
	products, err := h.service.GetAllProducts()
	if err != nil {
		log.Printf("Error getting all products: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve products",
			"error":   err.Error(),
		})
	}

	search := c.Query("search")
	category := c.Query("category")
	return c.JSON(services.FilterProducts(products, search, category))
}

// HandleGetCategories returns the canonical category set for product forms
// and dashboard tabs.
func (h *ProductHandler) HandleGetCategories(c *fiber.Ctx) error {
	return c.JSON(models.Categories)
}

// HandleGetProductByID retrieves a single product by its ID.
func (h *ProductHandler) HandleGetProductByID(c *fiber.Ctx) error {
	productID := c.Params("id")
	product, err := h.service.GetProductByID(productID)
	if err != nil {
		log.Printf("Error getting product by ID %s: %v", productID, err)
		if strings.Contains(err.Error(), "not found") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": "Product not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve product",
			"error":   err.Error(),
		})
	}
	return c.JSON(product)
}

// HandleAddProduct creates a new product from a multipart form carrying the
// field values and the product image.
func (h *ProductHandler) HandleAddProduct(c *fiber.Ctx) error {
	form := services.ProductForm{
		Name:        c.FormValue("name"),
		Price:       c.FormValue("price"),
		Description: c.FormValue("description"),
		Category:    c.FormValue("category"),
	}

	image, closeImage, err := imageFromRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid image upload",
			"error":   err.Error(),
		})
	}
	defer closeImage()

	result := h.service.SubmitNew(form, image)
	if !result.Success {
		return c.Status(submitFailureStatus(result.Message)).JSON(result)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleEditProduct updates an existing product. The image part is optional;
// when absent the stored image reference is kept.
func (h *ProductHandler) HandleEditProduct(c *fiber.Ctx) error {
	productID := c.Params("id")
	form := services.ProductForm{
		Name:        c.FormValue("name"),
		Price:       c.FormValue("price"),
		Description: c.FormValue("description"),
		Category:    c.FormValue("category"),
	}

	image, closeImage, err := imageFromRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid image upload",
			"error":   err.Error(),
		})
	}
	defer closeImage()

	result := h.service.SubmitEdit(productID, form, image)
	if !result.Success {
		return c.Status(submitFailureStatus(result.Message)).JSON(result)
	}
	return c.JSON(result)
}

// HandleDeleteProduct deletes a product by its ID.
func (h *ProductHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	productID := c.Params("id")
	result := h.service.DeleteProduct(productID)
	if !result.Success {
		if strings.Contains(result.Message, "not found") {
			return c.Status(fiber.StatusNotFound).JSON(result)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(result)
	}
	return c.JSON(result)
}

// imageFromRequest extracts the optional image part from a multipart request.
// A missing part yields a nil source; the returned func releases the file.
func imageFromRequest(c *fiber.Ctx) (*services.ImageSource, func(), error) {
	fileHeader, err := c.FormFile("image")
	if errors.Is(err, fasthttp.ErrMissingFile) {
		// No image part in the form; the orchestrator decides whether that
		// is acceptable for the operation.
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, func() {}, err
	}

	source := &services.ImageSource{
		Filename: fileHeader.Filename,
		Content:  file,
	}
	return source, func() { file.Close() }, nil
}

// submitFailureStatus maps a submission failure message to an HTTP status:
// validation rejections are client errors, everything else is a server-side
// failure surfaced with the repository's message.
func submitFailureStatus(message string) int {
	switch {
	case strings.HasPrefix(message, "please "):
		return fiber.StatusBadRequest
	case message == services.MsgSubmitInProgress:
		return fiber.StatusConflict
	case strings.Contains(message, "not found"):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}
