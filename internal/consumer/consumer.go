package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/indiguild/offramp-service/internal/ledger"
	"github.com/indiguild/offramp-service/internal/model"
	"github.com/indiguild/offramp-service/internal/service"
)

// deadLetterList is the redis list poisoned or failed messages are pushed
// to for manual replay.
const deadLetterList = "offramp:dead-letter"

// unknownUser labels lineage records for messages whose user could not be
// determined.
const unknownUser = "UNKNOWN_USER"

// MessageReader is the slice of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SellHandler runs the queue-driven sell path for one message.
type SellHandler interface {
	HandleSellMessage(ctx context.Context, msg model.TXInboundMessage) (service.SellOutcome, error)
}

// Consumer drains the sell topic one message at a time. Every message it
// fetches produces a ledger record, even on panic or malformed input, so
// the lineage trail never has silent gaps.
type Consumer struct {
	reader  MessageReader
	handler SellHandler
	ledger  *ledger.Store
	rdb     *redis.Client
	log     *zap.SugaredLogger
}

func New(reader MessageReader, handler SellHandler, store *ledger.Store, rdb *redis.Client, logger *zap.SugaredLogger) *Consumer {
	return &Consumer{reader: reader, handler: handler, ledger: store, rdb: rdb, log: logger}
}

// Run fetches and processes messages until ctx is cancelled. Offsets commit
// only after processing, so a crash replays the in-flight message.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		c.Process(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Errorw("commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Process handles a single message end to end. It never returns an error:
// every failure mode is recorded in the ledger and, where the payload may
// still be useful, parked on the dead-letter list.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) {
	messageID := string(msg.Key)
	if messageID == "" {
		messageID = fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("panic processing message", "message_id", messageID, "panic", r)
			c.recordCritical(ctx, "unknown_"+messageID, unknownUser, fmt.Sprintf("panic: %v", r))
			c.deadLetter(ctx, msg.Value)
		}
	}()

	var env model.QueueEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.log.Errorw("undecodable message", "message_id", messageID, "error", err)
		c.recordCritical(ctx, "unknown_"+messageID, unknownUser, err.Error())
		c.deadLetter(ctx, msg.Value)
		return
	}
	detail := env.Detail
	if err := detail.Validate(); err != nil {
		c.log.Errorw("invalid sell message", "message_id", messageID, "error", err)
		c.recordCritical(ctx, "unknown_"+messageID, unknownUser, err.Error())
		c.deadLetter(ctx, msg.Value)
		return
	}

	// Pre-log before any external call: if we crash mid-flight the record
	// shows the message was picked up.
	c.recordLineage(ctx, model.TransactionRecord{
		TxID:    detail.TxnHash,
		UserID:  detail.UserID,
		Status:  model.StatusPending,
		TxnHash: detail.TxnHash,
		Address: detail.WalletAddress,
	})

	out, err := c.handler.HandleSellMessage(ctx, detail)
	if err != nil {
		c.log.Errorw("sell processing failed", "txn_hash", detail.TxnHash, "error", err)
		c.recordCritical(ctx, detail.TxnHash, detail.UserID, err.Error())
		c.deadLetter(ctx, msg.Value)
		return
	}

	rec := model.TransactionRecord{
		TxID:    detail.TxnHash,
		UserID:  detail.UserID,
		TxnHash: detail.TxnHash,
		Address: detail.WalletAddress,
	}
	switch {
	case out.Success:
		rec.Status = model.StatusAllOK
		if out.Sell != nil {
			rec.BankTransactionID = out.Sell.ID
		}
	case out.Code == model.CodeInsufficientBalance:
		// Funds may still be settling; leave the transaction pending so a
		// later delivery can retry.
		rec.Status = model.StatusPending
		rec.FailureCode = fmt.Sprint(out.Code)
		rec.FailureDesc = out.Text
	case out.Code == model.CodeKYCNotVerified:
		rec.Status = model.StatusKYCError
		rec.FailureCode = fmt.Sprint(out.Code)
		rec.FailureDesc = out.Text
	case out.Code == model.CodeProviderError:
		rec.Status = model.StatusCriticalError
		rec.FailureCode = fmt.Sprint(out.Code)
		rec.FailureDesc = out.Text
	default:
		rec.Status = model.StatusUnknownError
		rec.FailureCode = fmt.Sprint(out.Code)
		rec.FailureDesc = out.Text
	}
	c.recordLineage(ctx, rec)
	c.log.Infow("sell message processed",
		"txn_hash", detail.TxnHash, "user_id", detail.UserID, "status", rec.Status, "code", out.Code)
}

func (c *Consumer) recordCritical(ctx context.Context, txID, userID, desc string) {
	c.recordLineage(ctx, model.TransactionRecord{
		TxID:        txID,
		UserID:      userID,
		Status:      model.StatusCriticalError,
		FailureDesc: desc,
	})
}

func (c *Consumer) recordLineage(ctx context.Context, rec model.TransactionRecord) {
	if err := c.ledger.Append(ctx, &rec); err != nil {
		c.log.Errorw("lineage append failed", "tx_id", rec.TxID, "status", rec.Status, "error", err)
	}
}

// deadLetter parks the raw payload for manual replay. Best effort: losing
// the dead letter is logged, never fatal.
func (c *Consumer) deadLetter(ctx context.Context, payload []byte) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.RPush(ctx, deadLetterList, payload).Err(); err != nil {
		c.log.Errorw("dead-letter push failed", "error", err)
	}
}
