package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/notifyhub/internal/directory"
	"github.com/nao1215/notifyhub/internal/store"
	"github.com/nao1215/notifyhub/pkg/middleware"
)

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Username はユーザー名。
	Username string `json:"username" binding:"required"`
	// Password はパスワード。
	Password string `json:"password" binding:"required"`
}

// handleLogin はユーザー名とパスワードを検証し、JWTトークンを発行するハンドラ。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ユーザー名とパスワードが必要です"})
			return
		}

		if err := s.directory.Authenticate(c.Request.Context(), req.Username, req.Password); err != nil {
			if errors.Is(err, directory.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザー名またはパスワードが正しくありません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログイン処理に失敗しました"})
			log.Printf("ログイン処理エラー: %v", err)
			return
		}

		groups, err := s.directory.GroupsOf(c.Request.Context(), req.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "所属グループの取得に失敗しました"})
			log.Printf("所属グループ取得エラー: %v", err)
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, req.Username, groups)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("トークン発行エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"username": req.Username,
			"groups":   groups,
		})
	}
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// Content は通知の本文。
	Content string `json:"content"`
	// Sender は通知を作成したユーザー名。
	Sender string `json:"sender"`
	// SenderGroup は送信元グループ名。
	SenderGroup string `json:"sender_group"`
	// ReceiverGroup は宛先グループ名。
	ReceiverGroup string `json:"receiver_group"`
	// Status は通知の状態（pending / confirmed）。
	Status string `json:"status"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// ConfirmedBy は通知を確認したユーザー名。未確認の間はnull。
	ConfirmedBy *string `json:"confirmed_by"`
	// ConfirmedAt は通知の確認日時（RFC3339形式）。未確認の間はnull。
	ConfirmedAt *string `json:"confirmed_at"`
}

// toNotificationResponse は通知レコードをJSONレスポンスに変換する。
func toNotificationResponse(n *store.Notification) notificationResponse {
	resp := notificationResponse{
		ID:            n.ID,
		Content:       n.Content,
		Sender:        n.Sender,
		SenderGroup:   n.SenderGroup,
		ReceiverGroup: n.ReceiverGroup,
		Status:        string(n.Status),
		CreatedAt:     n.CreatedAt.Format(time.RFC3339),
	}
	if n.Status == store.StatusConfirmed {
		confirmedBy := n.ConfirmedBy
		confirmedAt := n.ConfirmedAt.Format(time.RFC3339)
		resp.ConfirmedBy = &confirmedBy
		resp.ConfirmedAt = &confirmedAt
	}
	return resp
}

// toNotificationResponses は通知レコードのスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []*store.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// handleListNotifications は認証済みユーザーの送信済み通知と
// 所属グループ宛ての受信通知を新しい順で返すハンドラ。
func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := middleware.GetUsername(c)
		if username == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザー名が取得できません"})
			return
		}

		sent, err := s.store.ListBySender(c.Request.Context(), username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "送信済み通知の取得に失敗しました"})
			log.Printf("送信済み通知取得エラー: %v", err)
			return
		}

		groups, err := s.directory.GroupsOf(c.Request.Context(), username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "所属グループの取得に失敗しました"})
			log.Printf("所属グループ取得エラー: %v", err)
			return
		}

		received, err := s.store.ListByReceiverGroups(c.Request.Context(), groups)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "受信通知の取得に失敗しました"})
			log.Printf("受信通知取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":                 "success",
			"sent_notifications":     toNotificationResponses(sent),
			"received_notifications": toNotificationResponses(received),
		})
	}
}
