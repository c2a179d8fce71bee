package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// UpsertProfile creates or replaces a user's profile. A nil Embedding keeps
// the stored vector.
func (s *Store) UpsertProfile(ctx context.Context, p *Profile) error {
	var blob any
	if len(p.Embedding) > 0 {
		blob = encodeFloat32s(p.Embedding)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, display_name, username, bio, interests, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			username = excluded.username,
			bio = excluded.bio,
			interests = excluded.interests,
			embedding = COALESCE(excluded.embedding, profiles.embedding),
			updated_at = excluded.updated_at
	`, p.UserID, p.DisplayName, p.Username, p.Bio, p.Interests, blob, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// SetProfileEmbedding stores the precomputed vector for a profile.
func (s *Store) SetProfileEmbedding(ctx context.Context, userID string, vector []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET embedding = ?, updated_at = ? WHERE user_id = ?`,
		encodeFloat32s(vector), toMillis(time.Now()), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember links a user to a community. Re-adding updates the role.
func (s *Store) AddMember(ctx context.Context, communityID, userID, role string) error {
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (community_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(community_id, user_id) DO UPDATE SET role = excluded.role
	`, communityID, userID, role, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// MemberProfiles returns up to limit members of the community that have a
// profile, most recently joined first. Members without a profile are skipped.
func (s *Store) MemberProfiles(ctx context.Context, communityID string, limit int) ([]MemberProfile, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.community_id, m.role, m.joined_at,
			p.user_id, p.display_name, p.username, p.bio, p.interests
		FROM members m
		JOIN profiles p ON p.user_id = m.user_id
		WHERE m.community_id = ?
		ORDER BY m.joined_at DESC, m.user_id ASC
		LIMIT ?
	`, communityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MemberProfile
	for rows.Next() {
		var mp MemberProfile
		var joined int64
		if err := rows.Scan(&mp.CommunityID, &mp.Role, &joined,
			&mp.UserID, &mp.DisplayName, &mp.Username, &mp.Bio, &mp.Interests); err != nil {
			return nil, err
		}
		mp.JoinedAt = fromMillis(joined)
		out = append(out, mp)
	}
	return out, rows.Err()
}

// SearchProfiles ranks the community's member profiles by cosine similarity
// to vector and returns at most limit matches scoring at least threshold.
// Cosine similarity is computed in Go over every stored vector of the community.
func (s *Store) SearchProfiles(ctx context.Context, communityID string, vector []float32, threshold float32, limit int) ([]ProfileMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.community_id, m.role, m.joined_at,
			p.user_id, p.display_name, p.username, p.bio, p.interests, p.embedding
		FROM members m
		JOIN profiles p ON p.user_id = m.user_id
		WHERE m.community_id = ? AND p.embedding IS NOT NULL
	`, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []ProfileMatch
	for rows.Next() {
		var mp MemberProfile
		var joined int64
		var blob []byte
		if err := rows.Scan(&mp.CommunityID, &mp.Role, &joined,
			&mp.UserID, &mp.DisplayName, &mp.Username, &mp.Bio, &mp.Interests, &blob); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		stored := decodeFloat32s(blob)
		if len(stored) != len(vector) {
			continue // dimension mismatch, skip
		}
		sim := cosineSimilarity(vector, stored)
		if sim < threshold {
			continue
		}
		mp.JoinedAt = fromMillis(joined)
		candidates = append(candidates, ProfileMatch{MemberProfile: mp, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// encodeFloat32s converts a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s converts little-endian bytes back to a float32 slice.
func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
