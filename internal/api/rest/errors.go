package rest

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validationOnce sync.Once

// registerValidation makes binding errors report JSON and form field names.
func registerValidation() {
	validationOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return f.Name
		})
	})
}

// respondError writes the JSON error body for err. The code is the area
// prefix followed by the HTTP status, e.g. DEVICE_404.
func (s *Server) respondError(c *gin.Context, area string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, types.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrConflict):
		status = http.StatusConflict
	}

	code := fmt.Sprintf("%s_%d", area, status)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.Error(err)
		c.JSON(status, types.NewErrorResponse(code, "internal server error", nil))
		return
	}

	var details any
	var typed *types.Error
	if errors.As(err, &typed) && len(typed.Fields) > 0 {
		details = typed.Fields
	}
	c.JSON(status, types.NewErrorResponse(code, err.Error(), details))
}

// respondBindError turns a gin binding failure into a 400 with field detail.
func (s *Server) respondBindError(c *gin.Context, area string, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]types.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, types.FieldError{Field: fe.Field(), Message: describe(fe)})
		}
		s.respondError(c, area, types.Validation("invalid request body", fields...))
		return
	}
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(area+"_400", "invalid request body", err.Error()))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "uuid":
		return "must be a UUID"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed on " + fe.Tag()
	}
}
