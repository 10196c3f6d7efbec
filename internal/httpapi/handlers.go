package httpapi

import (
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
)

/*
====================================
USERS
====================================
*/

func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string `json:"userId"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Locale   string `json:"locale"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Users.RegisterPWA(r.Context(), goIdentity.RegisterInput{
		UserID:   body.UserID,
		Email:    body.Email,
		Password: body.Password,
		Locale:   body.Locale,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) logInUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Users.LogInPWA(r.Context(), body.SessionID, body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) logInTOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Users.LogInTOTP(r.Context(), middleware.MFAToken(r), body.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) logOutUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Users.LogOut(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifyUser(w http.ResponseWriter, r *http.Request) {
	tok, err := s.engine.Users.VerifyAuthToken(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userToken": tok})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Users.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Users.ChangePassword(r.Context(), body.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requestConfirmation(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Users.RequestConfirmation(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"confirmationToken"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Users.Confirm(r.Context(), body.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) generateTOTP(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Users.GenerateTOTP(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getGeneratedTOTP(w http.ResponseWriter, r *http.Request) {
	secret, err := s.engine.Users.GetGeneratedTOTP(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, secret)
}

func (s *Server) activateTOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Users.ActivateTOTP(r.Context(), body.Code); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
GROUPS
====================================
*/

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupID string `json:"groupId"`
		Label   string `json:"label"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Groups.Create(r.Context(), body.GroupID, body.Label); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Groups.Get(r.Context(), r.PathValue("groupId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) renameGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label string `json:"label"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Groups.Rename(r.Context(), r.PathValue("groupId"), body.Label); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) inviteUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Groups.InviteUser(r.Context(), r.PathValue("groupId"), body.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) uninviteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Groups.UninviteUser(r.Context(), r.PathValue("groupId"), r.PathValue("email")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) joinGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InvitationToken string `json:"invitationToken"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Groups.Join(r.Context(), body.InvitationToken); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) leaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Groups.Leave(r.Context(), r.PathValue("groupId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requestAccess(w http.ResponseWriter, r *http.Request) {
	tok, err := s.engine.Groups.RequestAccessForMember(r.Context(), r.PathValue("groupId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": tok})
}

func (s *Server) verifyAccess(w http.ResponseWriter, r *http.Request) {
	tok, err := s.engine.Groups.VerifyAccessToken(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"aclToken": tok})
}

func (s *Server) groupLog(w http.ResponseWriter, r *http.Request) {
	q, err := logQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.engine.Groups.GetLog(r.Context(), r.PathValue("groupId"), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

/*
====================================
AGENTS
====================================
*/

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agentId"`
		Label   string `json:"label"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Agents.Create(r.Context(), body.AgentID, body.Label); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Agents.Get(r.Context(), r.PathValue("agentId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) renameAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label string `json:"label"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Agents.Rename(r.Context(), r.PathValue("agentId"), body.Label); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Agents.Delete(r.Context(), r.PathValue("agentId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createCredentials(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CredentialsID string `json:"credentialsId"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	summary, err := s.engine.Agents.CreateCredentials(r.Context(), r.PathValue("agentId"), body.CredentialsID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) getCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.engine.Agents.GetCredentials(r.Context(), r.PathValue("agentId"), r.PathValue("credentialsId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, creds)
}

func (s *Server) deleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Agents.DeleteCredentials(r.Context(), r.PathValue("agentId"), r.PathValue("credentialsId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logInAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agentId"`
		Secret  string `json:"secret"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.engine.Agents.LogIn(r.Context(), body.AgentID, body.Secret)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) verifyAgent(w http.ResponseWriter, r *http.Request) {
	tok, err := s.engine.Agents.VerifyAuthToken(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agentToken": tok})
}

func (s *Server) logOutAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Agents.LogOut(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) agentLog(w http.ResponseWriter, r *http.Request) {
	q, err := logQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.engine.Agents.GetLog(r.Context(), r.PathValue("agentId"), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
