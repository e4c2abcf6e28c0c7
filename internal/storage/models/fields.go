package models

import "time"

// FieldValue 按名称取设备字段值，供自动化规则条件求值使用。
// 返回 ok=false 表示字段不存在或值为空（规则语义：空值永不匹配）。
//
// 除实际列外还提供派生字段：
//   - offline_minutes: 设备处于 offline 状态的时长（分钟）；在线设备为 0
//   - minutes_since_last_seen: 距最近一次会话接触的分钟数
func (d *Device) FieldValue(name string, now time.Time) (any, bool) {
	switch name {
	case "status":
		return d.Status, true
	case "serial_number":
		return d.SerialNumber, true
	case "kind":
		return string(d.Kind), true
	case "model":
		return deref(d.Model)
	case "firmware_ver":
		return deref(d.FirmwareVer)
	case "ip_address":
		return deref(d.IPAddress)
	case "rssi", "signal_strength":
		return deref(d.RSSI)
	case "rx_power":
		return deref(d.RxPower)
	case "temperature":
		return deref(d.Temperature)
	case "uptime_sec":
		return deref(d.UptimeSec)
	case "wifi_enabled":
		return d.WifiEnabled, true
	case "wifi_channel":
		return deref(d.WifiChannel)
	case "wifi_ssid":
		return deref(d.WifiSSID)
	case "minutes_since_last_seen":
		if d.LastSeenAt == nil {
			return nil, false
		}
		return now.Sub(*d.LastSeenAt).Minutes(), true
	case "offline_minutes":
		if d.Status != StatusOffline {
			return float64(0), true
		}
		if d.LastSeenAt == nil {
			return nil, false
		}
		return now.Sub(*d.LastSeenAt).Minutes(), true
	default:
		return nil, false
	}
}

func deref[T any](p *T) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}
