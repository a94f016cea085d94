package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/repository"
)

// RoomConfig 房间默认值和限制。
type RoomConfig struct {
	DefaultMaxMembers int
	MaxActiveInvites  int
	InviteTTL         time.Duration
	InviteMaxUses     int
}

func (c RoomConfig) withDefaults() RoomConfig {
	if c.DefaultMaxMembers <= 0 {
		c.DefaultMaxMembers = 10
	}
	if c.MaxActiveInvites <= 0 {
		c.MaxActiveInvites = 10
	}
	if c.InviteTTL <= 0 {
		c.InviteTTL = 24 * time.Hour
	}
	if c.InviteMaxUses <= 0 {
		c.InviteMaxUses = 10
	}
	return c
}

// CreateRoomInput 描述新房间及其房主。
type CreateRoomInput struct {
	Name       string
	HostName   string
	Visibility domain.Visibility
	Passcode   string
	MaxMembers int
}

// JoinRoomInput 描述一次加入请求。
type JoinRoomInput struct {
	RoomID      string
	DisplayName string
	Passcode    string
	InviteCode  string
}

// CreateInviteInput 描述一次邀请请求。零值使用配置的默认值。
type CreateInviteInput struct {
	RoomID      string
	RequestedBy string
	MaxUses     int
	TTL         time.Duration
}

// RoomJoinResult 返回给进入房间的成员。
type RoomJoinResult struct {
	Room   domain.Room       `json:"room"`
	Member domain.RoomMember `json:"member"`
	Token  string            `json:"token"`
}

// roomEntry 是一个房间加载后的完整视图。
type roomEntry struct {
	room    domain.Room
	members []domain.RoomMember
	invites []domain.RoomInvite
}

// RoomService 管理房间、成员和邀请。所有操作由服务级的一把互斥锁串行化。
type RoomService struct {
	rooms   repository.RoomRepository
	members repository.MemberRepository
	invites repository.InviteRepository
	tokens  *TokenService
	cfg     RoomConfig
	clock   clock.Clock

	mu         sync.Mutex
	cache      map[string]*roomEntry
	nowPlaying map[string]domain.PlaybackState
}

// NewRoomService 创建 RoomService。clk 可以为 nil。
func NewRoomService(
	rooms repository.RoomRepository,
	members repository.MemberRepository,
	invites repository.InviteRepository,
	tokens *TokenService,
	cfg RoomConfig,
	clk clock.Clock,
) *RoomService {
	if rooms == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if members == nil {
		panic("MemberRepository cannot be nil for RoomService")
	}
	if invites == nil {
		panic("InviteRepository cannot be nil for RoomService")
	}
	if tokens == nil {
		panic("TokenService cannot be nil for RoomService")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RoomService{
		rooms:      rooms,
		members:    members,
		invites:    invites,
		tokens:     tokens,
		cfg:        cfg.withDefaults(),
		clock:      clk,
		cache:      make(map[string]*roomEntry),
		nowPlaying: make(map[string]domain.PlaybackState),
	}
}

// CreateRoom 创建房间及其房主成员。
func (s *RoomService) CreateRoom(ctx context.Context, in CreateRoomInput) (*RoomJoinResult, error) {
	name := strings.TrimSpace(in.Name)
	hostName := strings.TrimSpace(in.HostName)
	logCtx := logrus.WithFields(logrus.Fields{"room_name": name, "operation": "createRoom"})
	// 1. 校验输入
	if name == "" || hostName == "" {
		logCtx.Warn("Rejected room creation with a blank name")
		return nil, fmt.Errorf("%w: room name and host name are required", domain.ErrRoomAccess)
	}

	// 2. 构造房间，未指定时使用默认值
	now := s.clock.Now().UTC()
	room := domain.Room{
		ID:         uuid.NewString(),
		Name:       name,
		HostName:   hostName,
		Visibility: in.Visibility,
		MaxMembers: in.MaxMembers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if room.Visibility != domain.VisibilityPrivate {
		room.Visibility = domain.VisibilityPublic
	}
	if room.MaxMembers <= 0 {
		room.MaxMembers = s.cfg.DefaultMaxMembers
	}
	// 口令只保存 bcrypt 哈希
	if in.Passcode != "" {
		hash, err := hashPasscode(in.Passcode)
		if err != nil {
			logCtx.WithError(err).Error("Failed to hash room passcode")
			return nil, ErrInternalServer
		}
		room.PasscodeHash = hash
	}
	host := domain.RoomMember{
		ID:           uuid.NewString(),
		RoomID:       room.ID,
		DisplayName:  hostName,
		JoinedAt:     now,
		LastActiveAt: now,
		IsHost:       true,
	}
	room.HostID = host.ID
	logCtx = logCtx.WithField("room_id", room.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	// 3. 保存房间和房主，房主保存失败时回滚房间
	if err := s.rooms.Save(ctx, &room); err != nil {
		logCtx.WithError(err).Error("Failed to save new room")
		return nil, fmt.Errorf("save room: %w", err)
	}
	if err := s.members.Save(ctx, &host); err != nil {
		logCtx.WithError(err).Error("Failed to save host member, removing room")
		if delErr := s.rooms.Delete(ctx, room.ID); delErr != nil {
			logCtx.WithError(delErr).Error("Failed to remove room after host save failure")
		}
		return nil, fmt.Errorf("save host member: %w", err)
	}
	s.cache[room.ID] = &roomEntry{room: room, members: []domain.RoomMember{host}}

	// 4. 签发房主令牌
	token, err := s.tokens.Issue(host)
	if err != nil {
		logCtx.WithError(err).Error("Failed to issue host token")
		return nil, ErrInternalServer
	}
	logCtx.Info("Room created successfully")
	return &RoomJoinResult{Room: room, Member: host, Token: token}, nil
}

// ListRooms 返回所有房间的摘要。
func (s *RoomService) ListRooms(ctx context.Context) ([]domain.RoomSummary, error) {
	stored, err := s.rooms.FindAll(ctx)
	if err != nil {
		logrus.WithError(err).Error("listRooms: Repository error")
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]domain.RoomSummary, 0, len(stored))
	for _, r := range stored {
		entry, err := s.entryLocked(ctx, r.ID)
		if errors.Is(err, domain.ErrRoomNotFound) {
			continue // 已被并发删除
		}
		if err != nil {
			return nil, err
		}
		summary := domain.RoomSummary{
			Room:        entry.room,
			MemberCount: len(entry.members),
			IsLocked:    entry.room.IsLocked(),
		}
		// 附上正在播放的快照
		if state, ok := s.nowPlaying[r.ID]; ok {
			cp := state.Clone()
			summary.NowPlaying = &cp
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// JoinRoom 添加普通成员。检查顺序为：房间存在、人数上限、口令、
// 私有房间是否需要邀请码、邀请码是否有效、昵称。所有检查通过之前不消耗任何东西。
func (s *RoomService) JoinRoom(ctx context.Context, in JoinRoomInput) (*RoomJoinResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": in.RoomID, "operation": "joinRoom"})

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}
	// 人数上限
	if len(entry.members) >= entry.room.MaxMembers {
		logCtx.Warn("Join rejected: room is full")
		return nil, fmt.Errorf("%w: %d of %d members", domain.ErrRoomCapacity, len(entry.members), entry.room.MaxMembers)
	}
	// 口令
	if entry.room.HasPasscode() && !checkPasscode(in.Passcode, entry.room.PasscodeHash) {
		logCtx.Warn("Join rejected: wrong passcode")
		return nil, fmt.Errorf("%w: wrong passcode", domain.ErrRoomAccess)
	}
	// 私有房间必须带邀请码
	code := strings.ToUpper(strings.TrimSpace(in.InviteCode))
	if entry.room.Visibility == domain.VisibilityPrivate && code == "" {
		logCtx.Warn("Join rejected: private room requires an invite")
		return nil, fmt.Errorf("%w: private room requires an invite code", domain.ErrRoomAccess)
	}
	now := s.clock.Now().UTC()
	// 邀请码必须存在且未过期、未用完
	inviteIdx := -1
	if code != "" {
		inviteIdx = findInvite(entry.invites, code)
		if inviteIdx < 0 || !entry.invites[inviteIdx].Active(now) {
			logCtx.WithField("invite_code", code).Warn("Join rejected: invite not usable")
			return nil, fmt.Errorf("%w: invite %s is not active", domain.ErrRoomInvite, code)
		}
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", domain.ErrRoomAccess)
	}

	member := domain.RoomMember{
		ID:           uuid.NewString(),
		RoomID:       entry.room.ID,
		DisplayName:  displayName,
		JoinedAt:     now,
		LastActiveAt: now,
	}
	if len(entry.members) == 0 {
		// 空房间由下一个加入的人接管
		member.IsHost = true
	}
	if err := s.members.Save(ctx, &member); err != nil {
		logCtx.WithError(err).Error("Failed to save joining member")
		return nil, fmt.Errorf("save member: %w", err)
	}
	entry.members = append(entry.members, member)
	if member.IsHost {
		s.assignHostLocked(ctx, entry, member)
	}
	// 成员保存成功后才消耗邀请码
	if inviteIdx >= 0 {
		s.consumeInviteLocked(ctx, entry, inviteIdx)
	}

	token, err := s.tokens.Issue(member)
	if err != nil {
		logCtx.WithError(err).Error("Failed to issue member token")
		return nil, ErrInternalServer
	}
	logCtx.WithFields(logrus.Fields{"member_id": member.ID, "members": len(entry.members)}).Info("Member joined room")
	return &RoomJoinResult{Room: entry.room, Member: member, Token: token}, nil
}

// LeaveRoom 移除成员。房主离开时，剩余成员中最早加入的成为房主。
// 不存在的成员直接忽略。
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, memberID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID, "operation": "leaveRoom"})

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ctx, roomID)
	if err != nil {
		return err
	}
	idx := findMember(entry.members, memberID)
	if idx < 0 {
		logCtx.Debug("Leave ignored: not a member")
		return nil
	}
	leaving := entry.members[idx]
	if err := s.members.Delete(ctx, memberID); err != nil {
		logCtx.WithError(err).Error("Failed to delete member")
		return fmt.Errorf("delete member: %w", err)
	}
	entry.members = append(entry.members[:idx], entry.members[idx+1:]...)
	logCtx.Info("Member left room")

	if !leaving.IsHost {
		return nil
	}
	// 房主离开后房间空了，清空房主信息
	if len(entry.members) == 0 {
		entry.room.HostID = ""
		entry.room.HostName = ""
		entry.room.UpdatedAt = s.clock.Now().UTC()
		if err := s.rooms.Save(ctx, &entry.room); err != nil {
			logCtx.WithError(err).Error("Failed to clear host of empty room")
		}
		return nil
	}
	// 选出最早加入的成员作为新房主
	successor := 0
	for i := range entry.members {
		if entry.members[i].JoinedAt.Before(entry.members[successor].JoinedAt) {
			successor = i
		}
	}
	entry.members[successor].IsHost = true
	if err := s.members.Save(ctx, &entry.members[successor]); err != nil {
		logCtx.WithError(err).Error("Failed to persist new host flag")
	}
	s.assignHostLocked(ctx, entry, entry.members[successor])
	logCtx.WithField("new_host_id", entry.members[successor].ID).Info("Host passed to earliest member")
	return nil
}

// CreateInvite 生成新的邀请码。只有房主可以邀请。
func (s *RoomService) CreateInvite(ctx context.Context, in CreateInviteInput) (*domain.RoomInvite, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": in.RoomID, "member_id": in.RequestedBy, "operation": "createInvite"})

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}
	idx := findMember(entry.members, in.RequestedBy)
	if idx < 0 || !entry.members[idx].IsHost {
		logCtx.Warn("Invite rejected: requester is not the host")
		return nil, fmt.Errorf("%w: only the host can create invites", domain.ErrRoomAccess)
	}
	// 先清掉过期的邀请，再检查数量上限
	now := s.clock.Now().UTC()
	s.pruneInvitesLocked(ctx, entry, now)
	if len(entry.invites) >= s.cfg.MaxActiveInvites {
		logCtx.Warn("Invite rejected: active invite limit reached")
		return nil, fmt.Errorf("%w: %d active invites is the limit", domain.ErrRoomInvite, s.cfg.MaxActiveInvites)
	}

	// 未指定时使用默认次数和有效期
	maxUses := in.MaxUses
	if maxUses <= 0 {
		maxUses = s.cfg.InviteMaxUses
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.cfg.InviteTTL
	}
	invite := domain.RoomInvite{
		RoomID:            entry.room.ID,
		CreatedByMemberID: in.RequestedBy,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		MaxUses:           maxUses,
	}
	if err := s.createInviteCode(ctx, &invite); err != nil {
		logCtx.WithError(err).Error("Failed to create invite")
		return nil, err
	}
	entry.invites = append(entry.invites, invite)
	logCtx.WithField("invite_code", invite.Code).Info("Invite created")
	return &invite, nil
}

// GetInvites 返回房间当前有效的邀请。过期和用完的邀请会被清理。
func (s *RoomService) GetInvites(ctx context.Context, roomID string) ([]domain.RoomInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.pruneInvitesLocked(ctx, entry, s.clock.Now().UTC())
	return append([]domain.RoomInvite(nil), entry.invites...), nil
}

// GetRoomMembers 按加入时间返回房间成员。
func (s *RoomService) GetRoomMembers(ctx context.Context, roomID string) ([]domain.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return append([]domain.RoomMember(nil), entry.members...), nil
}

// GetRoom 返回房间的副本。
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room := entry.room
	return &room, nil
}

// GetMember 返回属于 roomID 的成员 memberID，否则返回 ErrRoomAccess。
func (s *RoomService) GetMember(ctx context.Context, roomID, memberID string) (*domain.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ctx, roomID)
	if err != nil {
		return nil, err
	}
	idx := findMember(entry.members, memberID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: not a member of this room", domain.ErrRoomAccess)
	}
	member := entry.members[idx]
	return &member, nil
}

// TouchMember 记录成员活跃时间。
func (s *RoomService) TouchMember(ctx context.Context, roomID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ctx, roomID)
	if err != nil {
		return err
	}
	idx := findMember(entry.members, memberID)
	if idx < 0 {
		return fmt.Errorf("%w: not a member of this room", domain.ErrRoomAccess)
	}
	entry.members[idx].LastActiveAt = s.clock.Now().UTC()
	if err := s.members.Save(ctx, &entry.members[idx]); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID}).WithError(err).Warn("Failed to persist member activity")
	}
	return nil
}

// DeleteRoom 删除房间及其成员和邀请。只有房主可以删除。
func (s *RoomService) DeleteRoom(ctx context.Context, roomID, memberID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID, "operation": "deleteRoom"})

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.entryLocked(ctx, roomID)
	if err != nil {
		return err
	}
	idx := findMember(entry.members, memberID)
	if idx < 0 || !entry.members[idx].IsHost {
		logCtx.Warn("Delete rejected: requester is not the host")
		return fmt.Errorf("%w: only the host can delete the room", domain.ErrRoomAccess)
	}
	if err := s.rooms.Delete(ctx, roomID); err != nil {
		logCtx.WithError(err).Error("Failed to delete room")
		return fmt.Errorf("delete room: %w", err)
	}
	delete(s.cache, roomID)
	delete(s.nowPlaying, roomID)
	logCtx.Info("Room deleted")
	return nil
}

// UpdatePlaybackState 缓存房间列表中展示的正在播放快照。
func (s *RoomService) UpdatePlaybackState(roomID string, state domain.PlaybackState) {
	s.mu.Lock()
	s.nowPlaying[roomID] = state.Clone()
	s.mu.Unlock()
}

// GetPlaybackState 返回缓存的正在播放快照。
func (s *RoomService) GetPlaybackState(roomID string) (domain.PlaybackState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.nowPlaying[roomID]
	if !ok {
		return domain.PlaybackState{}, false
	}
	return state.Clone(), true
}

// entryLocked 返回缓存的房间，第一次访问时从存储加载。调用方必须持有 s.mu。
func (s *RoomService) entryLocked(ctx context.Context, roomID string) (*roomEntry, error) {
	if entry, ok := s.cache[roomID]; ok {
		return entry, nil
	}
	logCtx := logrus.WithField("room_id", roomID)

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
		}
		logCtx.WithError(err).Error("Failed to load room")
		return nil, fmt.Errorf("load room: %w", err)
	}
	if room == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	members, err := s.members.FindByRoom(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load room members")
		return nil, fmt.Errorf("load members: %w", err)
	}
	invites, err := s.invites.FindByRoom(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load room invites")
		return nil, fmt.Errorf("load invites: %w", err)
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })

	entry := &roomEntry{room: *room, members: members, invites: invites}
	s.cache[roomID] = entry
	logCtx.WithField("members", len(members)).Debug("Room hydrated from storage")
	return entry, nil
}

func (s *RoomService) assignHostLocked(ctx context.Context, entry *roomEntry, host domain.RoomMember) {
	entry.room.HostID = host.ID
	entry.room.HostName = host.DisplayName
	entry.room.UpdatedAt = s.clock.Now().UTC()
	if err := s.rooms.Save(ctx, &entry.room); err != nil {
		logrus.WithField("room_id", entry.room.ID).WithError(err).Error("Failed to persist room host")
	}
}

func (s *RoomService) consumeInviteLocked(ctx context.Context, entry *roomEntry, idx int) {
	invite := &entry.invites[idx]
	invite.Uses++
	logCtx := logrus.WithFields(logrus.Fields{"room_id": entry.room.ID, "invite_code": invite.Code})
	if invite.Uses >= invite.MaxUses {
		if err := s.invites.Delete(ctx, invite.Code); err != nil {
			logCtx.WithError(err).Error("Failed to delete exhausted invite")
		}
		entry.invites = append(entry.invites[:idx], entry.invites[idx+1:]...)
		logCtx.Debug("Invite exhausted")
		return
	}
	if err := s.invites.Update(ctx, invite); err != nil {
		logCtx.WithError(err).Error("Failed to persist invite use")
	}
}

func (s *RoomService) pruneInvitesLocked(ctx context.Context, entry *roomEntry, now time.Time) {
	kept := entry.invites[:0]
	for _, inv := range entry.invites {
		if inv.Active(now) {
			kept = append(kept, inv)
			continue
		}
		if err := s.invites.Delete(ctx, inv.Code); err != nil {
			logrus.WithFields(logrus.Fields{"room_id": entry.room.ID, "invite_code": inv.Code}).WithError(err).Warn("Failed to delete stale invite")
		}
	}
	entry.invites = kept
}

// createInviteCode 为 invite 分配一个未使用的随机码并保存。
func (s *RoomService) createInviteCode(ctx context.Context, invite *domain.RoomInvite) error {
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return err
		}
		// 检查邀请码是否已存在
		exists, err := s.invites.IsCodeExists(ctx, code)
		if err != nil {
			return fmt.Errorf("check invite code: %w", err)
		}
		if exists {
			continue
		}
		invite.Code = code
		err = s.invites.Create(ctx, invite)
		// 并发冲突，换一个码重试
		if errors.Is(err, repository.ErrDuplicateEntry) {
			continue
		}
		if err != nil {
			return fmt.Errorf("save invite: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to generate a unique invite code after %d attempts", maxAttempts)
}

// randomCode 生成 6 位大写字母数字邀请码，每一位均匀分布
func randomCode() (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const codeLength = 6

	alphabet := big.NewInt(int64(len(letters)))
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", fmt.Errorf("failed to generate random index: %w", err)
		}
		b[i] = letters[n.Int64()]
	}
	return string(b), nil
}

func findMember(members []domain.RoomMember, id string) int {
	for i := range members {
		if members[i].ID == id {
			return i
		}
	}
	return -1
}

func findInvite(invites []domain.RoomInvite, code string) int {
	for i := range invites {
		if invites[i].Code == code {
			return i
		}
	}
	return -1
}
