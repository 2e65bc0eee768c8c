package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/promptcraft-backend/pkg/errors"
)

type noteBody struct {
	Note  string `json:"note" validate:"required,max=5"`
	Count int64  `json:"count" validate:"gte=0"`
}

func decode(body string) (noteBody, error) {
	var dest noteBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return dest, DecodeJSONBody(req, &dest)
}

func TestDecodeJSONBodyAcceptsSingleObject(t *testing.T) {
	got, err := decode(`{"note":"olá","count":2}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Note != "olá" || got.Count != 2 {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"unknown field":  `{"note":"a","extra":1}`,
		"trailing data":  `{"note":"a"}{"note":"b"}`,
		"too long":       `{"note":"abcdef"}`,
		"negative count": `{"note":"a","count":-1}`,
		"oversized":      `{"note":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(body)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestValidationMessageNamesJSONField(t *testing.T) {
	_, err := decode(`{"note":"abcdef"}`)
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %v", pkgerrors.As(err).Details())
	}
	if details["note"] != "must be at most 5 characters" {
		t.Fatalf("unexpected details %v", details)
	}
}
