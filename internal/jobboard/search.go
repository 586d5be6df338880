package jobboard

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spigell/job-agents/internal/jobs"
)

const (
	SearchPath = "/vacancies"
)

type SearchParams struct {
	Text string `hhparam:"text"`
	// hhparam is custom tag for reflect. Please see buildParams.
	Areas       []int    `hhparam:"area" mapstructure:"areas"`
	OrderBy     string   `hhparam:"order_by" mapstructure:"order-by"`
	SearchField string   `hhparam:"search_field" mapstructure:"search-field"`
	Schedules   []string `hhparam:"schedule" mapstructure:"schedules"`
	Experience  string   `hhparam:"experience" mapstructure:"experience"`
	Period      uint     `hhparam:"period" mapstructure:"period"`
	PerPage     int      `hhparam:"per_page" mapstructure:"per-page"`
	// Limit caps the total number of results. It is not sent to the API.
	Limit int `hhparam:"-" mapstructure:"limit"`
}

// Search returns vacancies matching params converted to jobs.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]jobs.Job, error) {
	if strings.TrimSpace(params.Text) == "" {
		return nil, fmt.Errorf("search text is required")
	}

	// Set per_page max as possible. It should be faster.
	if params.PerPage <= 0 || params.PerPage > maxPerPage {
		params.PerPage = maxPerPage
	}
	if params.Limit > 0 && params.Limit < params.PerPage {
		params.PerPage = params.Limit
	}

	items, err := c.GetItems(ctx, c.APIURL+SearchPath, buildParams(params), params.Limit)
	if err != nil {
		return nil, fmt.Errorf("search vacancies: %w", err)
	}

	var vacancies []*Vacancy
	cfg := &mapstructure.DecoderConfig{
		Result:  &vacancies,
		TagName: "json",
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode vacancies: %w", err)
	}

	out := make([]jobs.Job, 0, len(vacancies))
	for _, v := range vacancies {
		if v == nil || v.Archived {
			continue
		}
		out = append(out, v.ToJob())
	}
	return out, nil
}

func buildParams(params SearchParams) url.Values {
	q := url.Values{}
	value := reflect.ValueOf(params)
	for _, field := range reflect.VisibleFields(value.Type()) {
		key := field.Tag.Get("hhparam")
		if key == "" || key == "-" {
			continue
		}

		switch v := value.FieldByIndex(field.Index).Interface().(type) {
		case []int:
			for _, item := range v {
				q.Add(key, strconv.Itoa(item))
			}
		case []string:
			for _, item := range v {
				q.Add(key, item)
			}
		default:
			s := fmt.Sprintf("%v", v)
			if s != "" && s != "0" {
				q.Set(key, s)
			}
		}
	}

	return q
}
