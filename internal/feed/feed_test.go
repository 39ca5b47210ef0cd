package feed_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/tenderwatch/internal/feed"
	"github.com/dataparency-dev/tenderwatch/internal/model"
)

func newLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPollDropsAmbiguousDeliveryTitlesForGoodsHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "1", "title": "Доставка канцелярских товаров", "pub_date": time.Now().Format(time.RFC3339)},
			{"id": "2", "title": "Поставка ноутбуков", "pub_date": time.Now().Format(time.RFC3339)},
		})
	}))
	defer srv.Close()

	src := feed.NewHTTPFeedSource(srv.URL, "", time.Second, 200*time.Millisecond, newLog())
	cur := src.Poll(context.Background(), feed.Query{TypeHint: model.TenderGoods})

	var ids []string
	for cur.Next() {
		ids = append(ids, cur.Tender().ID)
	}
	require.NoError(t, cur.Err())
	require.Equal(t, []string{"2"}, ids)
}

func TestEnrichReturnsPartialRecordOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := feed.NewHTTPFeedSource("", "", time.Second, 200*time.Millisecond, newLog())
	raw := model.Tender{ID: "1", SourceURL: srv.URL}

	enriched := src.Enrich(context.Background(), raw)
	require.NotNil(t, enriched.Enriched)
	require.True(t, enriched.Enriched.Partial)
}

func TestEnrichExtractsPriceAndDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Начальная цена контракта: 1 250 000 руб. Срок подачи заявок: 15.08.2026")
	}))
	defer srv.Close()

	src := feed.NewHTTPFeedSource("", "", time.Second, 200*time.Millisecond, newLog())
	raw := model.Tender{ID: "1", SourceURL: srv.URL}

	enriched := src.Enrich(context.Background(), raw)
	require.False(t, enriched.Enriched.Partial)
	require.NotNil(t, enriched.Enriched.PrecisePrice)
	require.Equal(t, int64(1250000), *enriched.Enriched.PrecisePrice)
	require.NotNil(t, enriched.Enriched.SubmissionDeadline)
}
