package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/LeventeLantos/wa-ledger/internal/client"
	"github.com/LeventeLantos/wa-ledger/internal/mapper"
)

var (
	ErrValidation = errors.New("invalid request")
	ErrUpstream   = errors.New("messaging api unreachable")
)

type SendClient interface {
	Send(ctx context.Context, businessPhoneID, authorization string, payload []byte) (*client.SendResult, error)
}

type SendRequest struct {
	BusinessPhoneID string `json:"businessPhoneId" validate:"required"`
	Authorization   string `json:"-"`
	Payload         []byte `json:"body" validate:"required"`
}

// NewValidator reports field errors by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Dispatcher originates outbound messages and records the ones the remote
// API accepts.
type Dispatcher struct {
	client   SendClient
	writer   *Writer
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(c SendClient, w *Writer, validate *validator.Validate, logger *slog.Logger) *Dispatcher {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:   c,
		writer:   w,
		validate: validate,
		logger:   logger,
		now:      time.Now,
	}
}

// Send validates req, forwards it and, on a 2xx answer, inserts a sent
// record with status initiated. The remote result is returned whenever the
// call was made, including alongside errors raised after it.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*client.SendResult, error) {
	if err := d.check(ctx, req); err != nil {
		outboundSendsCounter.WithLabelValues("invalid").Inc()
		return nil, err
	}

	res, err := d.client.Send(ctx, req.BusinessPhoneID, req.Authorization, req.Payload)
	if err != nil {
		outboundSendsCounter.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !res.OK() {
		outboundSendsCounter.WithLabelValues("remote_rejected").Inc()
		d.logger.InfoContext(ctx, "messaging api rejected send",
			"business_phone_id", req.BusinessPhoneID, "status_code", res.StatusCode)
		return res, nil
	}

	rec, err := mapper.Sent(req.BusinessPhoneID, req.Payload, res.Body, d.now())
	if err != nil {
		outboundSendsCounter.WithLabelValues("error").Inc()
		return res, err
	}
	if _, err := d.writer.Record(ctx, &rec); err != nil {
		outboundSendsCounter.WithLabelValues("error").Inc()
		return res, fmt.Errorf("record sent message %s: %w", rec.MessageID, err)
	}

	outboundSendsCounter.WithLabelValues("accepted").Inc()
	d.logger.InfoContext(ctx, "outbound message recorded",
		"message_id", rec.MessageID, "business_phone_id", rec.BusinessPhoneID)
	return res, nil
}

func (d *Dispatcher) check(ctx context.Context, req SendRequest) error {
	if err := d.validate.StructCtx(ctx, req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
	}

	body := bytes.TrimSpace(req.Payload)
	if len(body) == 0 || body[0] != '{' || !json.Valid(body) {
		return fmt.Errorf("%w: request body must be a JSON object", ErrValidation)
	}
	return nil
}
