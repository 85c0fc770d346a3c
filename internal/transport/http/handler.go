package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/indiguild/offramp-service/internal/auth"
	"github.com/indiguild/offramp-service/internal/ledger"
	"github.com/indiguild/offramp-service/internal/model"
	"github.com/indiguild/offramp-service/internal/provider"
	"github.com/indiguild/offramp-service/internal/service"
)

func RegisterHandlers(r *gin.Engine, lc *service.Lifecycle, client *provider.Client, signer *auth.Signer, fiatSymbol string) {
	offramp := r.Group("/v1/offramp")
	{
		offramp.POST("/crypto/transaction", webhookHandler(lc))
		offramp.POST("/crypto/sell", sellHandler(lc))
		offramp.GET("/withdrawal/balance", balanceHandler(client))
		offramp.GET("/kyc/details", kycDetailsHandler(client))
		offramp.GET("/init/kyc", kycInitHandler(signer))
		offramp.GET("/token-prices/:token", tokenPriceHandler(client, fiatSymbol))
		offramp.POST("/register/user", registerUserHandler(client))
	}
	tx := r.Group("/v1/transactions")
	{
		tx.GET("/user/:userId", historyHandler(lc.Ledger()))
		tx.GET("/user/:userId/fiat", fiatHistoryHandler(lc.Ledger()))
		tx.GET("/id/:txId", byTxIDHandler(lc.Ledger()))
		tx.GET("/hash/:txnHash", byHashHandler(lc.Ledger()))
		tx.GET("/hash/:txnHash/status", statusByHashHandler(lc.Ledger()))
		tx.GET("/bank/:bankTxnId", byBankIDHandler(lc.Ledger()))
	}
}

// webhookHandler hands the raw body plus the signature headers to the
// lifecycle. The transport answers 200 for every authenticated-or-not
// delivery; the envelope's code carries the verdict.
func webhookHandler(lc *service.Lifecycle) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		hdr := service.WebhookHeaders{
			Timestamp: c.GetHeader(auth.HeaderTimestamp),
			UserID:    c.GetHeader(auth.HeaderUserID),
			Signature: c.GetHeader(auth.HeaderSecretKey),
		}
		c.JSON(http.StatusOK, lc.HandleWebhook(c.Request.Context(), hdr, body))
	}
}

func sellHandler(lc *service.Lifecycle) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.SellCryptoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, err := lc.InitiateSell(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func balanceHandler(client *provider.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		bal, err := client.WithdrawalBalance(c.Request.Context(), userID)
		if err != nil {
			providerErrJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, bal)
	}
}

func kycDetailsHandler(client *provider.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		details, err := client.UserDetails(c.Request.Context(), userID)
		if err != nil {
			providerErrJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, details)
	}
}

// kycInitHandler hands the client the signed parameter set its embedded
// KYC SDK needs to start a verification session.
func kycInitHandler(signer *auth.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		c.JSON(http.StatusOK, signer.KYCInitParams(userID))
	}
}

func tokenPriceHandler(client *provider.Client, fiatSymbol string) gin.HandlerFunc {
	return func(c *gin.Context) {
		fiat := c.DefaultQuery("fiat", fiatSymbol)
		price, err := client.TokenPrice(c.Request.Context(), fiat, c.Param("token"))
		if err != nil {
			providerErrJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, price)
	}
}

type registerUserReq struct {
	UserUUID     string `json:"user_uuid" binding:"required"`
	ClientUserID string `json:"client_user_id" binding:"required"`
}

func registerUserHandler(client *provider.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerUserReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := client.RegisterUser(c.Request.Context(), req.UserUUID, req.ClientUserID)
		if err != nil {
			providerErrJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func historyHandler(store *ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := store.FindAllByUserID(c.Request.Context(), c.Param("userId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, recs)
	}
}

func fiatHistoryHandler(store *ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := store.FindFiatHistoryByUserID(c.Request.Context(), c.Param("userId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, recs)
	}
}

func byTxIDHandler(store *ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := store.FindLatestByTxID(c.Request.Context(), c.Param("txId"))
		lookupJSON(c, rec, err)
	}
}

func byHashHandler(store *ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := store.FindLatestByTxnHash(c.Request.Context(), c.Param("txnHash"))
		lookupJSON(c, rec, err)
	}
}

func statusByHashHandler(store *ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := store.CachedStatusByHash(c.Request.Context(), c.Param("txnHash"))
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status})
	}
}

func byBankIDHandler(store *ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := store.FindLatestByBankTransactionID(c.Request.Context(), c.Param("bankTxnId"))
		lookupJSON(c, rec, err)
	}
}

func lookupJSON(c *gin.Context, rec *model.TransactionRecord, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func providerErrJSON(c *gin.Context, err error) {
	var perr *provider.Error
	if errors.As(err, &perr) {
		c.JSON(http.StatusBadRequest, gin.H{"code": perr.Code, "error": perr.Text})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
