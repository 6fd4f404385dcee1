package services

import (
	"context"
	"fmt"

	"deskify/internal/automation"

	"gorm.io/gorm"
)

// TeamDirectory 规则引擎的团队成员查询。成员顺序按加入顺序
// （team_members.id 升序），轮询游标据此取模。
type TeamDirectory struct {
	db *gorm.DB
}

func NewTeamDirectory(db *gorm.DB) *TeamDirectory {
	return &TeamDirectory{db: db}
}

// Members 返回团队成员的用户 ID，按加入顺序
func (d *TeamDirectory) Members(ctx context.Context, teamID uint) ([]uint, error) {
	var ids []uint
	err := d.db.WithContext(ctx).Table("team_members").
		Where("team_id = ?", teamID).
		Order("id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load members of team %d: %w", teamID, err)
	}
	return ids, nil
}

// LeastBusy 返回当前未了结工单最少的成员，负载相同时取先加入者
func (d *TeamDirectory) LeastBusy(ctx context.Context, teamID uint) (uint, error) {
	var ids []uint
	err := d.db.WithContext(ctx).Table("team_members").
		Select("team_members.user_id").
		Joins("JOIN users ON users.id = team_members.user_id").
		Where("team_members.team_id = ?", teamID).
		Order("users.open_load ASC, team_members.id ASC").
		Limit(1).
		Pluck("team_members.user_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("pick least busy member of team %d: %w", teamID, err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("team %d: %w", teamID, automation.ErrEmptyRing)
	}
	return ids[0], nil
}
