package consumer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/indiguild/offramp-service/internal/auth"
	"github.com/indiguild/offramp-service/internal/config"
	"github.com/indiguild/offramp-service/internal/gate"
	"github.com/indiguild/offramp-service/internal/ledger"
	"github.com/indiguild/offramp-service/internal/logger"
	"github.com/indiguild/offramp-service/internal/model"
	"github.com/indiguild/offramp-service/internal/provider"
	"github.com/indiguild/offramp-service/internal/service"
)

type fakeMudrex struct {
	balance   float64
	kycStatus string
	sellID    string
	sellDown  bool
}

func (f *fakeMudrex) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/wallet/balance":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"data":    map[string]interface{}{"available_balance": f.balance},
			})
		case "/api/v1/user/client_user":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"data": map[string]interface{}{
					"user_uuid":  "u1",
					"kyc_status": f.kycStatus,
					"bank_accounts": []map[string]string{
						{"bank_id": "bank-1", "account_number": "111222", "status": "Approved"},
					},
				},
			})
		case "/api/v1/wallet/conversion/fiat/sell":
			if f.sellDown {
				http.Error(w, "upstream down", http.StatusBadGateway)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"data":    map[string]interface{}{"id": f.sellID, "status": "PROCESSING"},
			})
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestConsumer(t *testing.T, f *fakeMudrex) (*Consumer, *ledger.Store, redismock.ClientMock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.TransactionRecord{}))

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	log, _ := logger.NewLogger("info")
	store := ledger.NewStore(db, nil, log)
	client := provider.NewClient(srv.URL, auth.NewSigner("c", "s"), log)
	g := gate.New(client, log)
	verifier := auth.NewVerifier("c", "s", 0)
	lc := service.NewLifecycle(store, client, g, verifier, nil, config.SellConfig{FiatRate: "80"}, log)

	rdb, mock := redismock.NewClientMock()
	return New(nil, lc, store, rdb, log), store, mock
}

func sellPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(model.QueueEnvelope{Detail: model.TXInboundMessage{
		WalletAddress: "0xwallet",
		TxnHash:       "0xabc",
		UserID:        "u1",
		FiatAmount:    decimal.NewFromInt(800),
		CryptoAmount:  decimal.NewFromInt(10),
		PaymentMethod: "bank_transfer",
		FiatSymbol:    "INR",
		CryptoSymbol:  "USDT",
	}})
	assert.NoError(t, err)
	return payload
}

func statuses(t *testing.T, store *ledger.Store, userID string) []string {
	t.Helper()
	recs, err := store.FindAllByUserID(context.Background(), userID)
	assert.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Status
	}
	return out
}

func TestProcess_AllOK(t *testing.T) {
	f := &fakeMudrex{balance: 100, kycStatus: "Verified", sellID: "sell-1"}
	c, store, _ := newTestConsumer(t, f)

	c.Process(context.Background(), kafka.Message{Key: []byte("m1"), Value: sellPayload(t)})

	got := statuses(t, store, "u1")
	assert.ElementsMatch(t, []string{model.StatusPending, model.StatusAllOK}, got)

	latest, err := store.FindLatestByTxID(context.Background(), "0xabc")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusAllOK, latest.Status)
	assert.Equal(t, "sell-1", latest.BankTransactionID)
}

func TestProcess_PendingPreLogSurvivesProviderOutage(t *testing.T) {
	f := &fakeMudrex{balance: 100, kycStatus: "Verified", sellDown: true}
	c, store, mock := newTestConsumer(t, f)
	payload := sellPayload(t)
	mock.ExpectRPush(deadLetterList, payload).SetVal(1)

	c.Process(context.Background(), kafka.Message{Key: []byte("m1"), Value: payload})

	// the pre-log must exist even though the sell call never succeeded
	got := statuses(t, store, "u1")
	assert.Contains(t, got, model.StatusPending)
	assert.Contains(t, got, model.StatusCriticalError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_MalformedPayload(t *testing.T) {
	c, store, mock := newTestConsumer(t, &fakeMudrex{})
	payload := []byte(`{not json`)
	mock.ExpectRPush(deadLetterList, payload).SetVal(1)

	c.Process(context.Background(), kafka.Message{Key: []byte("m7"), Value: payload})

	latest, err := store.FindLatestByTxID(context.Background(), "unknown_m7")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCriticalError, latest.Status)
	assert.Equal(t, unknownUser, latest.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcess_MissingFieldsTreatedAsPoison(t *testing.T) {
	c, store, mock := newTestConsumer(t, &fakeMudrex{})
	payload, _ := json.Marshal(model.QueueEnvelope{Detail: model.TXInboundMessage{UserID: "u1"}})
	mock.ExpectRPush(deadLetterList, payload).SetVal(1)

	c.Process(context.Background(), kafka.Message{Key: []byte("m8"), Value: payload})

	latest, err := store.FindLatestByTxID(context.Background(), "unknown_m8")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCriticalError, latest.Status)
}

func TestProcess_KYCError(t *testing.T) {
	f := &fakeMudrex{balance: 100, kycStatus: "Unverified"}
	c, store, _ := newTestConsumer(t, f)

	c.Process(context.Background(), kafka.Message{Key: []byte("m1"), Value: sellPayload(t)})

	latest, err := store.FindLatestByTxID(context.Background(), "0xabc")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusKYCError, latest.Status)
	assert.Equal(t, "6094", latest.FailureCode)
}

func TestProcess_InsufficientBalanceStaysPending(t *testing.T) {
	f := &fakeMudrex{balance: 0, kycStatus: "Verified"}
	c, store, _ := newTestConsumer(t, f)

	c.Process(context.Background(), kafka.Message{Key: []byte("m1"), Value: sellPayload(t)})

	latest, err := store.FindLatestByTxID(context.Background(), "0xabc")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPending, latest.Status)
	assert.Equal(t, "6086", latest.FailureCode)
}

type stubReader struct {
	msgs      []kafka.Message
	next      int
	committed []kafka.Message
	closed    bool
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.next >= len(r.msgs) {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[r.next]
	r.next++
	return m, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *stubReader) Close() error {
	r.closed = true
	return nil
}

func TestRun_ProcessesAndCommits(t *testing.T) {
	f := &fakeMudrex{balance: 100, kycStatus: "Verified", sellID: "sell-1"}
	c, store, _ := newTestConsumer(t, f)
	reader := &stubReader{msgs: []kafka.Message{{Key: []byte("m1"), Value: sellPayload(t)}}}
	c.reader = reader

	assert.NoError(t, c.Run(context.Background()))
	assert.Len(t, reader.committed, 1)
	assert.True(t, reader.closed)

	latest, err := store.FindLatestByTxID(context.Background(), "0xabc")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusAllOK, latest.Status)
}
